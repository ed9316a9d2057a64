// Package testutil provisions scratch MySQL and Redis backends for handler
// tests. Tests skip when the backing services are not reachable.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pointdeck/pointdeck/src/api/config"
	"github.com/pointdeck/pointdeck/src/api/data"
	"github.com/pointdeck/pointdeck/src/api/types"
	"github.com/pointdeck/pointdeck/src/api/webserver"
)

// JWTSecret signs the tokens tests authenticate with.
const JWTSecret = "test-secret"

func testDSN() string {
	if dsn := os.Getenv("POINTDECK_TEST_MYSQL_DSN"); dsn != "" {
		return dsn
	}
	return "root:root@tcp(localhost:3306)/pointdeck_test?parseTime=true"
}

func testRedisURL() string {
	if url := os.Getenv("POINTDECK_TEST_REDIS_URL"); url != "" {
		return url
	}
	return "redis://localhost:6379/15"
}

// OpenTestDB connects to the test database and recreates the schema.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(mysql.Open(testDSN()), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("mysql not available: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil || sqlDB.Ping() != nil {
		t.Skipf("mysql not reachable at %s", testDSN())
	}

	err = db.Migrator().DropTable(
		&types.Vote{}, &types.Issue{}, &types.IssueIngestion{},
		&types.RoomUser{}, &types.Room{},
	)
	if err != nil {
		t.Fatalf("drop tables: %v", err)
	}
	if err := data.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// OpenTestRedis connects to the test redis database and flushes it.
func OpenTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	opt, err := redis.ParseURL(testRedisURL())
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	if err := rdb.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return rdb
}

// Config returns the configuration handler tests run with.
func Config() *config.Config {
	return &config.Config{
		Auth:      config.AuthConfig{JWTSecret: JWTSecret, TokenTTL: time.Hour},
		Presence:  config.PresenceConfig{Interval: 100 * time.Millisecond, OfflineFactor: 2},
		Voting:    config.VotingConfig{Deck: types.DefaultDeck},
		RateLimit: config.RateLimitConfig{Requests: 10000, Window: time.Minute},
		CORS:      config.CORSConfig{AllowOrigins: []string{"http://localhost:3000"}},
	}
}

// Router builds the full API router against scratch backends.
func Router(t *testing.T) (*gin.Engine, *gorm.DB, *redis.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := OpenTestDB(t)
	rdb := OpenTestRedis(t)
	return webserver.New(Config(), db, rdb), db, rdb
}

// RouterNoBackends builds the router without opening MySQL or Redis, for
// endpoints that touch neither.
func RouterNoBackends() *gin.Engine {
	gin.SetMode(gin.TestMode)
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	return webserver.New(Config(), nil, rdb)
}

// Token signs a bearer token for the given participant.
func Token(t *testing.T, sub, name string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "name": name, "exp": time.Now().Add(time.Hour).Unix()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

// Do performs a JSON request against the router.
func Do(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// Decode unmarshals a JSON response body.
func Decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}
