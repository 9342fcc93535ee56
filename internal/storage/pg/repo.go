package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/avl-server/internal/command"
	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
	"github.com/taoyao-code/avl-server/internal/sink"
)

// Repository 记录与指令日志持久化
type Repository struct {
	Pool *pgxpool.Pool
}

var _ sink.Publisher = (*Repository)(nil)

const insertRecordSQL = `INSERT INTO avl_records
    (batch_id, imei, transport, codec, ts, priority, longitude, latitude, altitude,
     angle, satellites, speed, trigger_event_id, generation_cause, events, received_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

// Publish 以 pgx.Batch 一次写入批次内全部记录
func (r *Repository) Publish(ctx context.Context, b *sink.Batch) error {
	if len(b.Records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range b.Records {
		list := rec.Events
		if list == nil {
			list = []teltonika.Event{}
		}
		events, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("marshal events: %w", err)
		}
		var cause interface{}
		if rec.GenerationCause != nil {
			cause = rec.GenerationCause.String()
		}
		batch.Queue(insertRecordSQL,
			b.ID, b.IMEI, b.Transport, b.Codec.String(), rec.Timestamp, rec.Priority.String(),
			rec.Longitude, rec.Latitude, int32(rec.Altitude), int32(rec.Angle),
			int16(rec.Satellites), int32(rec.Speed), int32(rec.TriggerEventID),
			cause, events, b.ReceivedAt)
	}
	br := r.Pool.SendBatch(ctx, batch)
	for range b.Records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert avl_records: %w", err)
		}
	}
	return br.Close()
}

// StoredRecord 查询返回的记录（事件保留 JSON 原文）
type StoredRecord struct {
	BatchID         string          `json:"batch_id"`
	IMEI            string          `json:"imei"`
	Codec           string          `json:"codec"`
	Timestamp       time.Time       `json:"timestamp"`
	Priority        string          `json:"priority"`
	Longitude       float64         `json:"longitude"`
	Latitude        float64         `json:"latitude"`
	Altitude        int32           `json:"altitude"`
	Angle           int32           `json:"angle"`
	Satellites      int16           `json:"satellites"`
	Speed           int32           `json:"speed"`
	TriggerEventID  int32           `json:"trigger_event_id"`
	GenerationCause *string         `json:"generation_cause,omitempty"`
	Events          json.RawMessage `json:"events"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// RecentRecords 设备最近 limit 条记录，按设备时间倒序
func (r *Repository) RecentRecords(ctx context.Context, imei string, limit int) ([]StoredRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	const q = `SELECT batch_id::text, imei, codec, ts, priority, longitude, latitude, altitude,
                      angle, satellites, speed, trigger_event_id, generation_cause, events, received_at
               FROM avl_records WHERE imei = $1 ORDER BY ts DESC, id DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, imei, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var s StoredRecord
		var events []byte
		if err := rows.Scan(&s.BatchID, &s.IMEI, &s.Codec, &s.Timestamp, &s.Priority,
			&s.Longitude, &s.Latitude, &s.Altitude, &s.Angle, &s.Satellites, &s.Speed,
			&s.TriggerEventID, &s.GenerationCause, &events, &s.ReceivedAt); err != nil {
			return nil, err
		}
		s.Events = json.RawMessage(events)
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertCommandLog 记录一次指令状态变化
func (r *Repository) InsertCommandLog(ctx context.Context, cmd *command.Command) error {
	const q = `INSERT INTO command_log (command_id, imei, text, status, response, error, retries, created_at)
               VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,NOW())`
	_, err := r.Pool.Exec(ctx, q, cmd.ID, cmd.IMEI, cmd.Text, string(cmd.Status), cmd.Response, cmd.Error, cmd.Retries)
	return err
}

// CommandHistory 指令状态历史，按时间正序
func (r *Repository) CommandHistory(ctx context.Context, commandID string) ([]command.Command, error) {
	const q = `SELECT command_id, imei, text, status, COALESCE(response,''), COALESCE(error,''), retries, created_at
               FROM command_log WHERE command_id = $1 ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []command.Command
	for rows.Next() {
		var c command.Command
		var status string
		if err := rows.Scan(&c.ID, &c.IMEI, &c.Text, &status, &c.Response, &c.Error, &c.Retries, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Status = command.Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}
