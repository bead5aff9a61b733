package services

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"cloud-inspection-service/internal/events"
	"cloud-inspection-service/internal/notify"
)

// ResultService consumes completion events from the workers and hands them to
// the notifier. The terminal status is already durable when the event
// arrives; notification failures are logged and dropped, never retried and
// never fed back into the execution record.
type ResultService struct {
	Reader   *kafka.Reader
	Notifier notify.Notifier
	Log      zerolog.Logger
}

func NewResultService(reader *kafka.Reader, notifier notify.Notifier, logger zerolog.Logger) *ResultService {
	return &ResultService{Reader: reader, Notifier: notifier, Log: logger}
}

// StartConsuming launches the consumer loop until ctx is cancelled.
func (s *ResultService) StartConsuming(ctx context.Context) {
	s.Log.Info().Msg("completion consumer starting")
	go func() {
		for {
			select {
			case <-ctx.Done():
				s.Log.Info().Msg("completion consumer stopping")
				return
			default:
				readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				msg, err := s.Reader.ReadMessage(readCtx)
				cancel()

				if err == context.DeadlineExceeded {
					continue
				}
				if err == context.Canceled {
					return
				}
				if err == io.EOF {
					s.Log.Info().Msg("completion reader closed")
					return
				}
				if err != nil {
					s.Log.Error().Err(err).Msg("completion read error")
					time.Sleep(time.Second)
					continue
				}
				s.handleCompletion(ctx, msg.Value)
			}
		}
	}()
}

func (s *ResultService) handleCompletion(ctx context.Context, value []byte) {
	var completion events.ExecutionCompletion
	if err := json.Unmarshal(value, &completion); err != nil {
		s.Log.Error().Err(err).Str("value", string(value)).Msg("bad completion payload")
		return
	}
	ev := notify.Event{
		TenantID:    completion.TenantID,
		TaskID:      completion.TaskID,
		ExecutionID: completion.ExecutionID,
		Status:      completion.Status,
		ErrorClass:  completion.ErrorClass,
	}
	if err := s.Notifier.Notify(ctx, ev); err != nil {
		s.Log.Error().
			Uint("execution_id", completion.ExecutionID).
			Err(err).
			Msg("notification delivery failed")
	}
}

func (s *ResultService) Close() {
	if s.Reader != nil {
		if err := s.Reader.Close(); err != nil {
			s.Log.Error().Err(err).Msg("closing completion reader")
		}
	}
}
