package domain

import (
	"fmt"
	"time"
)

// Tenant is an API client. Each tenant has its own pugs and game servers.
type Tenant struct {
	Key       string
	Name      string
	CreatedAt time.Time
}

type Server struct {
	ID           int64
	Tenant       string
	Host         string
	Port         int
	RconPassword string
	Password     string
	PugID        int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Ban struct {
	ID         string // nanoid
	PlayerID   int64
	Name       string
	BannerID   int64
	BannerName string
	Reason     string
	Duration   time.Duration // 0 = permanent
	Expired    bool
	CreatedAt  time.Time
}

// Active reports whether the ban still applies at now.
func (b Ban) Active(now time.Time) bool {
	if b.Expired {
		return false
	}
	if b.Duration == 0 {
		return true
	}
	return now.Before(b.CreatedAt.Add(b.Duration))
}
