package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeSessionExpire = "session:expire"

// SessionExpirer abandons a respondent session that outlived its TTL
type SessionExpirer interface {
	Expire(ctx context.Context, sessionID string) error
}

type JobServer struct {
	server   *asynq.Server
	client   *asynq.Client
	sessions SessionExpirer
	log      *zap.Logger
}

func NewJobServer(redisAddr string, log *zap.Logger) (*JobServer, *asynq.Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	client := asynq.NewClient(redisOpt)

	return &JobServer{
		server: server,
		client: client,
		log:    log,
	}, client
}

// SetSessionExpirer wires the handler target for session:expire
func (js *JobServer) SetSessionExpirer(s SessionExpirer) {
	js.sessions = s
}

func (js *JobServer) Start() error {
	return js.server.Start(js.Mux())
}

// Mux returns the handler set so it can be exercised without a server
func (js *JobServer) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSessionExpire, js.handleSessionExpire)
	return mux
}

func (js *JobServer) Stop() {
	js.server.Shutdown()
	js.client.Close()
}

// Job handlers

func (js *JobServer) handleSessionExpire(ctx context.Context, t *asynq.Task) error {
	sessionID := string(t.Payload())
	if js.sessions == nil {
		return fmt.Errorf("no session expirer configured")
	}

	if err := js.sessions.Expire(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to expire session: %w", err)
	}

	js.log.Info("Session expiry processed", zap.String("session_id", sessionID))
	return nil
}

// Schedule jobs

func ScheduleSessionExpiry(client *asynq.Client, sessionID string, expireAt time.Time) error {
	task := asynq.NewTask(TypeSessionExpire, []byte(sessionID))
	delay := time.Until(expireAt)
	if delay < 0 {
		delay = 0
	}
	_, err := client.Enqueue(task, asynq.ProcessIn(delay), asynq.Queue("low"))
	return err
}
