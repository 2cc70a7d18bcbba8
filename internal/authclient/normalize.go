package authclient

import (
	"encoding/json"
	"strconv"
	"strings"

	"skilllink/internal/domain"
	"skilllink/internal/role"
)

// Normalize turns a decoded auth response into a user and token. The user
// may sit at the top level, under "user", under "data" or under "data.user".
// A nil user means no recognizable record was present.
func Normalize(root map[string]any) (*domain.User, string) {
	if root == nil {
		return nil, ""
	}
	payload := root
	if data, ok := root["data"].(map[string]any); ok {
		payload = data
	}

	record := locateUser(root, payload)
	token := firstString(payload, "token", "accessToken")
	if token == "" {
		token = firstString(root, "token", "accessToken")
	}
	if record == nil {
		return nil, token
	}

	user := &domain.User{
		ID:       firstString(record, "id", "_id"),
		Email:    firstString(record, "email"),
		Name:     firstString(record, "name", "fullName", "username"),
		Avatar:   avatarOf(record["avatar"]),
		AvatarID: firstString(record, "avatarId"),
	}
	if user.ID == "" && user.Email == "" {
		return nil, token
	}

	r := role.Resolve(record)
	if r == domain.RoleNone {
		r = role.Resolve(payload)
	}
	if r == domain.RoleNone {
		r = role.Resolve(root)
	}
	user.Role = r

	return user, token
}

func locateUser(root, payload map[string]any) map[string]any {
	if u, ok := payload["user"].(map[string]any); ok {
		return u
	}
	if u, ok := root["user"].(map[string]any); ok {
		return u
	}
	if looksLikeUser(payload) {
		return payload
	}
	if looksLikeUser(root) {
		return root
	}
	return nil
}

func looksLikeUser(m map[string]any) bool {
	return firstString(m, "id", "_id", "email") != ""
}

func avatarOf(v any) string {
	switch a := v.(type) {
	case string:
		return a
	case map[string]any:
		return firstString(a, "url", "secure_url")
	}
	return ""
}

// firstString returns the first non-empty value among keys, accepting
// strings and numbers.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
