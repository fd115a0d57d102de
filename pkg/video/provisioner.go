package video

import (
	"context"
	"errors"
	"fmt"
	"medislot/pkg/client"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("video provider unavailable")

type Room struct {
	Reference string `json:"name"`
	JoinURL   string `json:"url"`
}

type Provisioner interface {
	// CreateRoom is idempotent on name: asking twice for the same name returns the same room.
	CreateRoom(ctx context.Context, name string, notBefore, expiresAt time.Time) (*Room, error)
}

type restProvisioner struct {
	http *client.HttpClient
}

func NewProvisioner(baseURL, apiKey string, timeout time.Duration) Provisioner {
	return &restProvisioner{
		http: client.NewHttpClient(baseURL, timeout).WithBearer(apiKey),
	}
}

type createRoomRequest struct {
	Name       string         `json:"name"`
	Privacy    string         `json:"privacy"`
	Properties roomProperties `json:"properties"`
}

type roomProperties struct {
	NotBefore int64 `json:"nbf"`
	ExpiresAt int64 `json:"exp"`
}

func (p *restProvisioner) CreateRoom(ctx context.Context, name string, notBefore, expiresAt time.Time) (*Room, error) {
	resp, err := p.http.POST(ctx, "/rooms", createRoomRequest{
		Name:    name,
		Privacy: "private",
		Properties: roomProperties{
			NotBefore: notBefore.Unix(),
			ExpiresAt: expiresAt.Unix(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create room: %w: %v", ErrUnavailable, err)
	}

	// A retried create after a lost response finds the room already there.
	if resp.StatusCode == http.StatusConflict || isAlreadyExists(resp) {
		return p.getRoom(ctx, name)
	}

	return decodeRoom(resp, "create room")
}

func (p *restProvisioner) getRoom(ctx context.Context, name string) (*Room, error) {
	resp, err := p.http.GET(ctx, "/rooms/"+url.PathEscape(name))
	if err != nil {
		return nil, fmt.Errorf("get room: %w: %v", ErrUnavailable, err)
	}
	return decodeRoom(resp, "get room")
}

func decodeRoom(resp *client.Response, op string) (*Room, error) {
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%s: %w: status %d", op, ErrUnavailable, resp.StatusCode)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%s rejected: %s", op, client.GetErrorMessage(resp))
	}

	var room Room
	if err := resp.DecodeJSON(&room); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if room.Reference == "" || room.JoinURL == "" {
		return nil, fmt.Errorf("%s: incomplete room in response", op)
	}
	return &room, nil
}

func isAlreadyExists(resp *client.Response) bool {
	if resp.StatusCode != http.StatusBadRequest {
		return false
	}
	var body struct {
		Error string `json:"error"`
		Info  string `json:"info"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(body.Info), "already exists")
}
