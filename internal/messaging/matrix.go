package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
)

var matrixUserID = regexp.MustCompile(`^@[a-z0-9._=\-/+]+:[A-Za-z0-9.\-]+(:[0-9]{1,5})?$`)

// IsLikelyValidUserID reports whether id looks like a Matrix user id (@local:server).
func IsLikelyValidUserID(id string) bool {
	return matrixUserID.MatchString(id)
}

// MatrixSender talks to a homeserver through the client-server API.
type MatrixSender struct {
	homeserver  string
	accessToken string
	httpClient  *http.Client
	markdown    goldmark.Markdown
}

// NewMatrixSender creates a sender for homeserverURL authenticated with accessToken.
func NewMatrixSender(homeserverURL, accessToken string, timeout time.Duration) *MatrixSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MatrixSender{
		homeserver:  strings.TrimRight(homeserverURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
		markdown:    goldmark.New(),
	}
}

type matrixJoinResponse struct {
	RoomID string `json:"room_id"`
}

type matrixErrorResponse struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

// JoinRoom joins room and returns its internal room id. Joining a room the
// bot is already in succeeds.
func (m *MatrixSender) JoinRoom(ctx context.Context, room string) (string, error) {
	endpoint := fmt.Sprintf("%s/_matrix/client/r0/join/%s", m.homeserver, url.PathEscape(room))

	var resp matrixJoinResponse
	if err := m.do(ctx, http.MethodPost, endpoint, struct{}{}, &resp, "join "+room); err != nil {
		return "", err
	}
	if resp.RoomID == "" {
		return "", fmt.Errorf("join %s: response has no room_id", room)
	}
	return resp.RoomID, nil
}

// SendMessage posts markdown as an m.text event with an HTML rendering.
func (m *MatrixSender) SendMessage(ctx context.Context, roomID, markdown string) error {
	var html bytes.Buffer
	if err := m.markdown.Convert([]byte(markdown), &html); err != nil {
		return fmt.Errorf("converting markdown: %w", err)
	}

	endpoint := fmt.Sprintf("%s/_matrix/client/r0/rooms/%s/send/m.room.message/%s",
		m.homeserver, url.PathEscape(roomID), uuid.NewString())
	body := map[string]string{
		"msgtype":        "m.text",
		"body":           markdown,
		"format":         "org.matrix.custom.html",
		"formatted_body": strings.TrimSpace(html.String()),
	}
	return m.do(ctx, http.MethodPut, endpoint, body, nil, "send to "+roomID)
}

// Mention links name to a Matrix user. Invalid ids fall back to the plain name.
func (m *MatrixSender) Mention(name, chatID string) string {
	if !IsLikelyValidUserID(chatID) {
		return name
	}
	return fmt.Sprintf("[%s](https://matrix.to/#/%s)", name, chatID)
}

func (m *MatrixSender) do(ctx context.Context, method, endpoint string, in, out any, op string) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
		var body matrixErrorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body) == nil {
			apiErr.Code, apiErr.Message = body.ErrCode, body.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}
