package devbackend

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/jrsteele09/citycard-gateway/users"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// New accounts start with a welcome credit.
	welcomeBalance = 500
)

var avatarTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

type wallet struct {
	Balance  int    `json:"balance"`
	Points   int    `json:"points"`
	Currency string `json:"currency"`
}

type adminStats struct {
	Users    int `json:"users"`
	Admins   int `json:"admins"`
	Active   int `json:"active"`
	Verified int `json:"verified"`
}

type userPage struct {
	Items  []*users.User `json:"items"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

// WalletHandler returns the caller's e-wallet summary inside a data envelope.
func (s *Server) WalletHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		points := 0
		if u.EmailVerified {
			points = 100
		}
		writeJSON(w, http.StatusOK, dataEnvelope{Data: wallet{Balance: welcomeBalance, Points: points, Currency: "TWD"}})
	}
}

// UploadAvatarHandler accepts a multipart "file" image and sets it as the
// caller's avatar.
func (s *Server) UploadAvatarHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes+1<<10)
		file, _, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "檔案過大")
				return
			}
			writeError(w, http.StatusBadRequest, "missing file")
			return
		}
		defer func() { _ = file.Close() }()

		content, err := io.ReadAll(io.LimitReader(file, maxAvatarBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file")
			return
		}
		if len(content) > maxAvatarBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "檔案過大")
			return
		}
		mt := mimetype.Detect(content)
		if !mimetype.EqualsAny(mt.String(), avatarTypes...) {
			writeError(w, http.StatusUnsupportedMediaType, "僅接受圖片檔案")
			return
		}

		url := "/avatars/" + uuid.NewString() + mt.Extension()
		u.Avatar = url
		if err := s.users.Upsert(u); err != nil {
			writeAppError(w, err)
			return
		}
		s.logger.Info().Str("user_id", u.ID).Str("type", mt.String()).Int("bytes", len(content)).Msg("avatar uploaded")
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

func (s *Server) AdminStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := s.users.List(0, 0)
		if err != nil {
			writeAppError(w, err)
			return
		}
		var stats adminStats
		for _, u := range all {
			stats.Users++
			if u.IsAdmin() {
				stats.Admins++
			}
			if u.Active {
				stats.Active++
			}
			if u.EmailVerified {
				stats.Verified++
			}
		}
		writeJSON(w, http.StatusOK, dataEnvelope{Data: stats})
	}
}

// AdminUsersHandler pages through accounts with ?offset= and ?limit=.
func (s *Server) AdminUsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset := queryInt(r, "offset", 0)
		limit := queryInt(r, "limit", defaultPageSize)
		if offset < 0 || limit <= 0 {
			writeError(w, http.StatusBadRequest, "offset and limit must be positive")
			return
		}
		limit = min(limit, maxPageSize)

		list, err := s.users.List(offset, limit)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if list == nil {
			list = []*users.User{}
		}
		writeJSON(w, http.StatusOK, dataEnvelope{Data: userPage{Items: list, Offset: offset, Limit: limit}})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
