package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/micro-ha/tomato-presence/addon/internal/model"
)

var ErrNotFound = errors.New("not found")

func (r *Repository) ListRegistered(ctx context.Context) (map[string]model.DeviceRegistered, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mac, name, icon, comment, created_at, updated_at
		FROM devices_registered`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string]model.DeviceRegistered{}
	for rows.Next() {
		var (
			item                 model.DeviceRegistered
			name, icon, comment  sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&item.MAC, &name, &icon, &comment, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		item.Name = strPtr(name)
		item.Icon = strPtr(icon)
		item.Comment = strPtr(comment)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			item.CreatedAt = ts.UTC()
		}
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			item.UpdatedAt = ts.UTC()
		}
		result[item.MAC] = item
	}
	return result, rows.Err()
}

func (r *Repository) UpsertRegistered(ctx context.Context, mac string, name, icon, comment *string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices_registered (mac, name, icon, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET
			name=excluded.name,
			icon=excluded.icon,
			comment=excluded.comment,
			updated_at=excluded.updated_at`,
		mac, fromStringPtr(name), fromStringPtr(icon), fromStringPtr(comment), now, now)
	return err
}

// PatchRegistered updates only the provided fields of an existing
// registration. It fails with ErrNotFound for unknown devices.
func (r *Repository) PatchRegistered(ctx context.Context, mac string, name, icon, comment *string) error {
	existing, err := r.getRegistered(ctx, mac)
	if err != nil {
		return err
	}
	if name == nil {
		name = existing.Name
	}
	if icon == nil {
		icon = existing.Icon
	}
	if comment == nil {
		comment = existing.Comment
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = r.db.ExecContext(ctx, `
		UPDATE devices_registered SET name = ?, icon = ?, comment = ?, updated_at = ?
		WHERE mac = ?`,
		fromStringPtr(name), fromStringPtr(icon), fromStringPtr(comment), now, mac)
	return err
}

func (r *Repository) DeleteRegistered(ctx context.Context, mac string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices_registered WHERE mac = ?`, mac)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) getRegistered(ctx context.Context, mac string) (model.DeviceRegistered, error) {
	var (
		item                model.DeviceRegistered
		name, icon, comment sql.NullString
	)
	row := r.db.QueryRowContext(ctx, `
		SELECT mac, name, icon, comment FROM devices_registered WHERE mac = ?`, mac)
	if err := row.Scan(&item.MAC, &name, &icon, &comment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DeviceRegistered{}, ErrNotFound
		}
		return model.DeviceRegistered{}, err
	}
	item.Name = strPtr(name)
	item.Icon = strPtr(icon)
	item.Comment = strPtr(comment)
	return item, nil
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func fromStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
