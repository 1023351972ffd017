package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
	"github.com/tentsuite/tent/internal/present/rest/presenter"
	"github.com/tentsuite/tent/internal/service"
	"github.com/tentsuite/tent/internal/usecase"
)

type Handler struct {
	config       domain.Config
	post         *usecase.PostUsecase
	feed         *usecase.FeedResolver
	relationship *usecase.RelationshipUsecase
	users        usecase.UserRepository
	posts        usecase.PostRepository
	signal       *service.SignalService
}

func NewHandler(
	config domain.Config,
	post *usecase.PostUsecase,
	feed *usecase.FeedResolver,
	relationship *usecase.RelationshipUsecase,
	users usecase.UserRepository,
	posts usecase.PostRepository,
	signal *service.SignalService,
) *Handler {
	return &Handler{
		config:       config,
		post:         post,
		feed:         feed,
		relationship: relationship,
		users:        users,
		posts:        posts,
		signal:       signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/.well-known/tent", h.handleWellKnown)
	e.POST("/posts", h.handleCreatePost)
	e.GET("/posts/:entity/:post", h.handleGetPost)
	e.PUT("/posts/:entity/:post", h.handlePutPost)
	e.GET("/feed", h.handleFeed)
	e.HEAD("/feed", h.handleFeedCount)
	e.POST("/register", h.handleRegister)
	e.GET("/realtime", h.handleRealtime)
}

func (h *Handler) requesterID(c echo.Context) string {
	id, _ := c.Request().Context().Value(domain.RequesterIdCtxKey).(string)
	return id
}

func (h *Handler) requesterType(c echo.Context) int {
	t, _ := c.Request().Context().Value(domain.RequesterTypeCtxKey).(int)
	return t
}

func (h *Handler) handleWellKnown(c echo.Context) error {
	meta := &tent.Post[any]{
		Entity: h.config.Entity,
		Type:   tent.TypeMeta,
		Content: tent.MetaContent{
			Entity: h.config.Entity,
			Servers: []tent.MetaServer{{
				Version:    "0.3",
				Preference: 0,
				URLs: map[string]string{
					"api_root":   h.config.APIRoot,
					"new_post":   h.config.APIRoot + "/posts",
					"post":       h.config.APIRoot + "/posts/{entity}/{post}",
					"posts_feed": h.config.APIRoot + "/feed",
				},
			}},
		},
	}
	return presenter.OK(c, tent.PostEnvelope{Post: meta})
}

func (h *Handler) handleCreatePost(c echo.Context) error {
	ctx := c.Request().Context()

	requester := h.requesterID(c)
	if requester == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	// decoded by hand so the protocol media type is accepted alongside
	// plain application/json
	var post tent.Post[any]
	if err := json.NewDecoder(c.Request().Body).Decode(&post); err != nil {
		return presenter.BadRequest(c, err)
	}
	post.UserID = requester

	created, err := h.post.Create(ctx, &post)
	if err != nil {
		switch {
		case errors.Is(err, tent.ErrVersionMismatch) || errors.Is(err, tent.ErrVersionMissing):
			return presenter.BadRequest(c, err)
		case errors.Is(err, domain.ErrNotFound):
			return presenter.NotFound(c, err.Error())
		default:
			return presenter.InternalError(c, err)
		}
	}
	return presenter.OK(c, tent.PostEnvelope{Post: created})
}

func (h *Handler) handleGetPost(c echo.Context) error {
	ctx := c.Request().Context()

	entity, err := url.QueryUnescape(c.Param("entity"))
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid entity")
	}

	owner, err := h.users.GetByEntity(ctx, entity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "post not found")
		}
		return presenter.InternalError(c, err)
	}

	requester := h.requesterID(c)
	if h.requesterType(c) == domain.RemoteServer {
		// a validated bewit grants delegated read on the owner's behalf
		requester = owner.ID
	}

	post, err := h.post.Get(ctx, owner.ID, c.Param("post"), c.QueryParam("version"), requester)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "post not found")
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, tent.PostEnvelope{Post: post})
}

// handlePutPost receives a relationship handoff from another server: the
// body carries the remote relationship post and the Link header points at
// the credentials post granting us access to it.
func (h *Handler) handlePutPost(c echo.Context) error {
	ctx := c.Request().Context()

	var env tent.PostEnvelope
	if err := json.NewDecoder(c.Request().Body).Decode(&env); err != nil {
		return presenter.BadRequest(c, err)
	}
	if env.Post == nil || env.Post.Type.Base() != tent.TypeRelationship.Base() {
		return presenter.BadRequestMessage(c, "expected a relationship post")
	}

	credsURL := credentialsLink(c.Request().Header.Get("Link"))
	if credsURL == "" {
		return presenter.BadRequestMessage(c, "missing credentials link")
	}

	entity, err := url.QueryUnescape(c.Param("entity"))
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid entity")
	}
	local, err := h.users.GetByEntity(ctx, entity)
	if err != nil || !local.Internal {
		return presenter.NotFound(c, "unknown entity")
	}

	_, creds, err := h.relationship.AcceptRelationship(ctx, local.ID, env.Post.Entity, credsURL)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	if creds == nil {
		return presenter.NotFound(c, "negotiation incomplete")
	}
	return presenter.OK(c, tent.PostEnvelope{Post: creds})
}

// credentialsLink extracts the target of a `rel="credentials"` web link.
func credentialsLink(header string) string {
	for _, link := range strings.Split(header, ",") {
		parts := strings.Split(strings.TrimSpace(link), ";")
		if len(parts) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(parts[0]), "<>")
		for _, attr := range parts[1:] {
			k, v, ok := strings.Cut(strings.TrimSpace(attr), "=")
			if ok && k == "rel" && strings.Trim(v, `"`) == "credentials" {
				return target
			}
		}
	}
	return ""
}

func (h *Handler) buildFeedRequest(c echo.Context) (*usecase.FeedRequest, error) {
	req := usecase.NewFeedRequest()

	if raw := c.QueryParam("entities"); raw != "" {
		for _, e := range strings.Split(raw, ",") {
			switch usecase.SpecialSet(e) {
			case usecase.SetFollowings, usecase.SetFollowers, usecase.SetFriends:
				req.SpecialSet(usecase.SpecialSet(e))
			default:
				req.Entities(e)
			}
		}
	}
	if raw := c.QueryParam("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			req.Types(tent.PostType(t))
		}
	}
	if raw := c.QueryParam("mentions"); raw != "" {
		// comma-separated OR within a clause, repeated params AND across
		var clause []usecase.FeedMention
		for _, m := range strings.Split(raw, ",") {
			entity, post, _ := strings.Cut(m, " ")
			clause = append(clause, usecase.FeedMention{Entity: entity, Post: post})
		}
		req.Mentions(clause...)
	}

	if raw := c.QueryParam("sort"); raw != "" {
		switch domain.SortKey(raw) {
		case domain.SortReceivedAt, domain.SortVersionReceivedAt,
			domain.SortPublishedAt, domain.SortVersionPublishedAt:
			req.Sort(domain.SortKey(raw))
		default:
			return nil, fmt.Errorf("invalid sort parameter")
		}
	}

	for name, apply := range map[string]func(usecase.FeedBoundary) *usecase.FeedRequest{
		"since":  req.Since,
		"until":  req.Until,
		"before": req.Before,
	} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s parameter", name)
		}
		apply(usecase.FeedBoundary{Time: time.UnixMilli(millis).UTC()})
	}

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter")
		}
		req.Limit(limit)
	}
	if raw := c.QueryParam("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid skip parameter")
		}
		req.Skip(skip)
	}
	if raw := c.QueryParam("max_refs"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid max_refs parameter")
		}
		req.MaxRefs(n)
	}
	return req, nil
}

// feedOwner is whose feed a request reads: the authenticated requester,
// or the node's own user for anonymous callers.
func (h *Handler) feedOwner(c echo.Context) (domain.User, error) {
	if id := h.requesterID(c); id != "" {
		return h.users.GetByID(c.Request().Context(), id)
	}
	return h.users.GetByEntity(c.Request().Context(), h.config.Entity)
}

func (h *Handler) handleFeed(c echo.Context) error {
	ctx := c.Request().Context()

	owner, err := h.feedOwner(c)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	req, err := h.buildFeedRequest(c)
	if err != nil {
		return presenter.BadRequestMessage(c, err.Error())
	}
	spec, err := req.Build()
	if err != nil {
		return presenter.BadRequestMessage(c, err.Error())
	}

	resolved, err := h.feed.Resolve(ctx, spec, owner.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, err.Error())
		}
		return presenter.InternalError(c, err)
	}

	rq, _ := resolved.Compile(owner.ID)
	rows, err := h.posts.Query(ctx, rq)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	requester := h.requesterID(c)
	visible := make([]*tent.Post[any], 0, len(rows))
	for _, post := range rows {
		if usecase.Readable(post, requester) {
			visible = append(visible, post)
		}
	}
	return presenter.OK(c, echo.Map{"posts": visible})
}

func (h *Handler) handleFeedCount(c echo.Context) error {
	ctx := c.Request().Context()

	owner, err := h.feedOwner(c)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	req, err := h.buildFeedRequest(c)
	if err != nil {
		return presenter.BadRequestMessage(c, err.Error())
	}
	spec, err := req.Build()
	if err != nil {
		return presenter.BadRequestMessage(c, err.Error())
	}

	resolved, err := h.feed.Resolve(ctx, spec, owner.ID)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	_, cq := resolved.Compile(owner.ID)
	count, err := h.posts.Count(ctx, cq)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	c.Response().Header().Set("Count", strconv.FormatInt(count, 10))
	return c.NoContent(http.StatusOK)
}

type registerRequest struct {
	Entity string `json:"entity"`
	Handle string `json:"handle"`
}

func (h *Handler) handleRegister(c echo.Context) error {
	ctx := c.Request().Context()

	if h.config.Registration == "close" {
		return presenter.Forbidden(c, "registration is closed")
	}

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.Entity == "" {
		return presenter.BadRequestMessage(c, "entity is required")
	}

	user, err := h.users.Register(ctx, domain.User{
		Entity:   req.Entity,
		Handle:   req.Handle,
		Internal: true,
	})
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, user)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type socketRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer ws.Close()

	// Cancellation is the only shutdown signal the bridge goroutines get;
	// closing input from here would race the reader's sends.
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	input := make(chan []string)
	output := make(chan tent.Event)

	go h.signal.Realtime(ctx, input, output)

	quit := make(chan struct{}, 1)

	go func() {
		for {
			var req socketRequest
			err := ws.ReadJSON(&req)
			if err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}

				quit <- struct{}{}
				break
			}

			switch req.Type {
			case "listen":
				select {
				case input <- req.Channels:
				case <-ctx.Done():
					return
				}
				slog.DebugContext(
					ctx, fmt.Sprintf("Socket subscribe: %s", req.Channels),
					slog.String("module", "socket"),
				)
			case "h": // heartbeat
				// do nothing
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case event := <-output:
			if err := ws.WriteJSON(event); err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
