package notification

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
)

const insertNotificationQuery = `
	INSERT INTO notification (user_id, type, title, message, data, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
`

// PostgresSender stores in-app notifications that the client polls.
type PostgresSender struct {
	db *sql.DB
}

func NewPostgresSender(db *sql.DB) *PostgresSender {
	return &PostgresSender{db: db}
}

func (s *PostgresSender) Send(ctx context.Context, e Event) error {
	if e.UserID <= 0 {
		return nil
	}
	if e.Data == nil {
		e.Data = map[string]string{}
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return errors.Wrap(err, "encode notification data")
	}
	_, err = s.db.ExecContext(ctx, insertNotificationQuery, e.UserID, string(e.Type), e.Title, e.Message, string(data), e.At)
	return errors.Wrap(err, "insert notification")
}
