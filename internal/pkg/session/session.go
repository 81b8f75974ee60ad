package session

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

// Redis database of the login sessions written by the main web app.
const sessionDatabase = 1

var sessionStore *session.Store

// NewRedisStorage connects a fiber storage to the Redis instance behind
// client, on database db. It is shared by sessions and the rate limiter.
func NewRedisStorage(client *goredis.Client, db int) *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		// Prefer password from the underlying client if present
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: db,
		Reset:    false,
	})
}

// NewSessionStore opens the login session store. The service only reads it;
// logins happen elsewhere.
func NewSessionStore(client *goredis.Client) *session.Store {
	sessionStore = session.New(session.Config{
		Storage:        NewRedisStorage(client, sessionDatabase),
		CookieHTTPOnly: true,
		CookieSecure:   !env.IsDev(),
		Expiration:     time.Hour * 1,
		KeyLookup:      "cookie:session_id",
	})
	return sessionStore
}

// SetSessionStore replaces the shared store, used by tests with in-memory storage.
func SetSessionStore(s *session.Store) {
	sessionStore = s
}

func GetSessionStore() *session.Store {
	return sessionStore
}
