package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// maxWriteAttempts bounds retries on serialization failures before the
// error is surfaced as ErrUnavailable.
const maxWriteAttempts = 3

func (db *PgRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash) "+
			"VALUES ($1, $2, $3) RETURNING id, username, email, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, translateError(err)
}

func (db *PgRepository) GetAccountById(accountId int64) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, translateError(err)
}

func (db *PgRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.CreatedAt,
	)

	return u, translateError(err)
}

// CreateRoom creates the room and its owner membership in one
// transaction. A direct room also gets its peer membership in the same
// transaction, so a direct room always has exactly two members from the
// moment it is visible.
func (db *PgRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO rooms (external_id, type, name, created_by) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, external_id, type, name, created_by, created_at",
		params.ExternalId,
		params.Type,
		params.Name,
		params.CreatedBy,
	)

	var room Room
	err = res.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Type,
		&room.Name,
		&room.CreatedBy,
		&room.CreatedAt,
	)
	if err != nil {
		return Room{}, translateError(err)
	}

	var owner Membership
	err = tx.QueryRow(
		"INSERT INTO room_members (room_id, account_id, role) "+
			"VALUES ($1, $2, $3) RETURNING id, room_id, account_id, role, joined_at",
		room.Id,
		params.CreatedBy,
		"owner",
	).Scan(&owner.Id, &owner.RoomId, &owner.UserId, &owner.Role, &owner.JoinedAt)
	if err != nil {
		return Room{}, translateError(err)
	}
	room.Members = append(room.Members, owner)

	if room.Type == "direct" {
		var peer Membership
		err = tx.QueryRow(
			"INSERT INTO room_members (room_id, account_id, role) "+
				"VALUES ($1, $2, $3) RETURNING id, room_id, account_id, role, joined_at",
			room.Id,
			params.PeerId,
			"member",
		).Scan(&peer.Id, &peer.RoomId, &peer.UserId, &peer.Role, &peer.JoinedAt)
		if err != nil {
			return Room{}, translateError(err)
		}
		room.Members = append(room.Members, peer)
	}

	if err = tx.Commit(); err != nil {
		return Room{}, translateError(err)
	}

	return room, nil
}

func (db *PgRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, type, name, created_by, created_at FROM rooms "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Type,
		&room.Name,
		&room.CreatedBy,
		&room.CreatedAt,
	)

	return room, translateError(err)
}

// RoomMembers lists a room's memberships with usernames, oldest first.
func (db *PgRepository) RoomMembers(roomId int64) ([]Membership, error) {
	members, err := db.membersForRooms([]int64{roomId})
	if err != nil {
		return nil, err
	}

	return members[roomId], nil
}

func (db *PgRepository) IsMember(roomId, accountId int64) bool {
	res := db.conn.QueryRow(
		"SELECT id FROM room_members WHERE room_id = $1 AND account_id = $2 LIMIT 1",
		roomId,
		accountId,
	)

	var id int64
	return res.Scan(&id) == nil
}

// AddMember adds a membership for an existing room. The room row is
// locked so the direct-room member count check cannot race with a
// concurrent add.
func (db *PgRepository) AddMember(roomId, accountId int64, role string) (Membership, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Membership{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var roomType string
	err = tx.QueryRow("SELECT type FROM rooms WHERE id = $1 FOR UPDATE", roomId).Scan(&roomType)
	if err != nil {
		return Membership{}, translateError(err)
	}

	if roomType == "direct" {
		var count int
		if err = tx.QueryRow(
			"SELECT count(*) FROM room_members WHERE room_id = $1", roomId,
		).Scan(&count); err != nil {
			return Membership{}, translateError(err)
		}
		if count >= 2 {
			err = fmt.Errorf("direct room is full: %w", ErrConflict)
			return Membership{}, err
		}
	}

	var m Membership
	err = tx.QueryRow(
		"INSERT INTO room_members (room_id, account_id, role) "+
			"VALUES ($1, $2, $3) RETURNING id, room_id, account_id, role, joined_at",
		roomId,
		accountId,
		role,
	).Scan(&m.Id, &m.RoomId, &m.UserId, &m.Role, &m.JoinedAt)
	if err != nil {
		return Membership{}, translateError(err)
	}

	if err = tx.Commit(); err != nil {
		return Membership{}, translateError(err)
	}

	return m, nil
}

// ListRooms returns the rooms the account is a member of, most recently
// active first (last message time, else room creation time).
func (db *PgRepository) ListRooms(accountId int64, limit, offset int) ([]Room, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.Query(
		`SELECT r.id, r.external_id, r.type, r.name, r.created_by, r.created_at,
			(SELECT max(created_at) FROM messages WHERE room_id = r.id) AS last_message_at
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.account_id = $1
		ORDER BY coalesce((SELECT max(created_at) FROM messages WHERE room_id = r.id), r.created_at) DESC
		LIMIT $2 OFFSET $3`,
		accountId,
		limit,
		offset,
	)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var rooms []Room
	var roomIds []int64
	for rows.Next() {
		var room Room
		if err := rows.Scan(
			&room.Id,
			&room.ExternalId,
			&room.Type,
			&room.Name,
			&room.CreatedBy,
			&room.CreatedAt,
			&room.LastMessageAt,
		); err != nil {
			return nil, translateError(err)
		}

		rooms = append(rooms, room)
		roomIds = append(roomIds, room.Id)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err)
	}

	if len(rooms) == 0 {
		return rooms, nil
	}

	members, err := db.membersForRooms(roomIds)
	if err != nil {
		return nil, err
	}

	for i := range rooms {
		rooms[i].Members = members[rooms[i].Id]
	}

	return rooms, nil
}

func (db *PgRepository) membersForRooms(roomIds []int64) (map[int64][]Membership, error) {
	rows, err := db.conn.Query(
		`SELECT m.id, m.room_id, m.account_id, a.username, m.role, m.last_read_message_id, m.joined_at
		FROM room_members m
		JOIN accounts a ON a.id = m.account_id
		WHERE m.room_id = ANY($1)
		ORDER BY m.joined_at`,
		pq.Array(roomIds),
	)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	members := make(map[int64][]Membership)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(
			&m.Id,
			&m.RoomId,
			&m.UserId,
			&m.Username,
			&m.Role,
			&m.LastReadMessageId,
			&m.JoinedAt,
		); err != nil {
			return nil, translateError(err)
		}

		members[m.RoomId] = append(members[m.RoomId], m)
	}

	return members, rows.Err()
}

func (db *PgRepository) UpdateLastRead(roomId, accountId, messageId int64) error {
	res, err := db.conn.Exec(
		"UPDATE room_members SET last_read_message_id = $3 "+
			"WHERE room_id = $1 AND account_id = $2 "+
			"AND (last_read_message_id IS NULL OR last_read_message_id < $3)",
		roomId,
		accountId,
		messageId,
	)
	if err != nil {
		return translateError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 && !db.IsMember(roomId, accountId) {
		return ErrNotFound
	}

	// zero rows with an existing membership means the watermark was
	// already at or past messageId, which is a no-op
	return nil
}

func (db *PgRepository) CreateMessage(params CreateMessageParams) (Message, bool, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		msg, created, err := db.createMessage(params)
		if err != nil && retryable(err) {
			continue
		}
		return msg, created, err
	}

	return Message{}, false, ErrUnavailable
}

// createMessage is the single ordering point for a room's log. The room
// row lock serializes concurrent appends to one room, so identity
// assignment and the clock_timestamp() creation time can never invert.
// The lock also doubles as the room existence check.
func (db *PgRepository) createMessage(params CreateMessageParams) (Message, bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var roomId int64
	err = tx.QueryRow("SELECT id FROM rooms WHERE id = $1 FOR UPDATE", params.RoomId).Scan(&roomId)
	if err != nil {
		return Message{}, false, translateError(err)
	}

	if params.ClientMsgId != "" {
		var existing Message
		err = tx.QueryRow(
			"SELECT id, room_id, sender_id, body, type, client_msg_id, created_at FROM messages "+
				"WHERE room_id = $1 AND sender_id = $2 AND client_msg_id = $3 LIMIT 1",
			params.RoomId,
			params.SenderId,
			params.ClientMsgId,
		).Scan(
			&existing.Id,
			&existing.RoomId,
			&existing.SenderId,
			&existing.Body,
			&existing.Type,
			&existing.ClientMsgId,
			&existing.CreatedAt,
		)
		if err == nil {
			// idempotent replay: return the original, no new row
			if err = tx.Commit(); err != nil {
				return Message{}, false, translateError(err)
			}
			return existing, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Message{}, false, translateError(err)
		}
		err = nil
	}

	var msg Message
	err = tx.QueryRow(
		"INSERT INTO messages (room_id, sender_id, body, type, client_msg_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, clock_timestamp()) "+
			"RETURNING id, room_id, sender_id, body, type, client_msg_id, created_at",
		params.RoomId,
		params.SenderId,
		params.Body,
		params.Type,
		params.ClientMsgId,
	).Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SenderId,
		&msg.Body,
		&msg.Type,
		&msg.ClientMsgId,
		&msg.CreatedAt,
	)
	if err != nil {
		return Message{}, false, translateError(err)
	}

	if err = tx.Commit(); err != nil {
		return Message{}, false, translateError(err)
	}

	return msg, true, nil
}

func (db *PgRepository) ListMessages(roomId int64, limit, offset int) ([]Message, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	err := db.conn.QueryRow(
		"SELECT count(*) FROM messages WHERE room_id = $1", roomId,
	).Scan(&total)
	if err != nil {
		return nil, 0, translateError(err)
	}

	rows, err := db.conn.Query(
		"SELECT id, room_id, sender_id, body, type, client_msg_id, created_at FROM messages "+
			"WHERE room_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		roomId,
		limit,
		offset,
	)
	if err != nil {
		return nil, 0, translateError(err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.RoomId,
			&msg.SenderId,
			&msg.Body,
			&msg.Type,
			&msg.ClientMsgId,
			&msg.CreatedAt,
		); err != nil {
			return nil, 0, translateError(err)
		}

		messages = append(messages, msg)
	}

	return messages, total, rows.Err()
}

// translateError maps driver errors onto the package's sentinel errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", pqErr.Constraint, ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", pqErr.Constraint, ErrNotFound)
		}
	}

	return err
}

func retryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}

	return false
}
