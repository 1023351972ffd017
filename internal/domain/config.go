package domain

// Config is the node identity handed to services.
type Config struct {
	FQDN         string `yaml:"fqdn"`
	Entity       string `yaml:"entity"`
	APIRoot      string `yaml:"apiRoot"`
	Registration string `yaml:"registration"` // open, invite, close
}
