package service

import (
	"time"

	"formflow/internal/jobs"

	"github.com/hibiken/asynq"
)

// AsynqJobClient implements JobClient using asynq
type AsynqJobClient struct {
	client *asynq.Client
}

func NewAsynqJobClient(client *asynq.Client) *AsynqJobClient {
	return &AsynqJobClient{client: client}
}

func (c *AsynqJobClient) ScheduleSessionExpiry(sessionID string, expireAt time.Time) error {
	return jobs.ScheduleSessionExpiry(c.client, sessionID, expireAt)
}
