package models

import (
	"time"
)

type User struct {
	ID               string     `json:"id" gorm:"primaryKey;type:text"`
	Entity           string     `json:"entity" gorm:"type:text;index:user_entity,unique"`
	PreviousEntities string     `json:"previousEntities" gorm:"type:json;default:'[]'"`
	Handle           string     `json:"handle" gorm:"type:text;index"`
	Internal         bool       `json:"internal" gorm:"type:boolean;not null;default:false"`
	MetaPostID       string     `json:"metaPostId" gorm:"type:text"`
	LastDiscoveredAt *time.Time `json:"lastDiscoveredAt" gorm:"type:timestamp with time zone"`
	CDate            time.Time  `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}
