package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries a per-request ID, kept across a replay.
const RequestIDHeader = "X-Request-ID"

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestGate sends API requests with the current access token and
// recovers one authorization failure per request through a refresh.
type RequestGate struct {
	doer        Doer
	store       *TokenStore
	coordinator *RefreshCoordinator
	publicPaths []string
	authFailure statusSet
	timeout     time.Duration
	observer    Observer
	log         zerolog.Logger
}

// Do sends req. Public endpoints are sent without a token and their
// response is returned as is, whatever the status.
//
// For a protected endpoint an authorization failure starts (or joins) a
// refresh; on success the request is replayed once with the new token, on
// failure an *UnauthorizedError is returned. Other statuses are returned
// untouched.
func (g *RequestGate) Do(req *http.Request) (*Response, error) {
	if err := bufferBody(req); err != nil {
		return nil, err
	}
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	if isPublicPath(g.publicPaths, req.URL.Path) {
		return g.send(req, "")
	}

	token := g.store.Access()
	resp, err := g.send(req, token)
	if err != nil || !g.authFailure.has(resp.StatusCode) {
		return resp, err
	}

	log := g.log.With().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("request_id", req.Header.Get(RequestIDHeader)).
		Logger()
	log.Debug().Int("status", resp.StatusCode).Msg("access token rejected")
	g.observer.RequestRejected(req.Method, req.URL.Path)

	switch o := g.await(req.Context(), token).(type) {
	case Retry:
		replayed, err := g.send(req, o.Token)
		if err != nil {
			return nil, fmt.Errorf("replay failed: %w", err)
		}
		if g.authFailure.has(replayed.StatusCode) {
			log.Warn().Int("status", replayed.StatusCode).Msg("request rejected again after refresh")
			return nil, &UnauthorizedError{
				StatusCode: replayed.StatusCode,
				Header:     replayed.Header,
				Body:       replayed.Body,
				Retried:    true,
			}
		}
		g.observer.RequestReplayed(req.Method, req.URL.Path)
		return replayed, nil

	case Fail:
		if errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded) {
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return nil, ctxErr
			}
		}
		return nil, &UnauthorizedError{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       resp.Body,
			Cause:      o.Err,
		}

	default:
		return nil, fmt.Errorf("unexpected refresh outcome %T", o)
	}
}

// await waits for a refresh outcome for a request that was sent with token.
// It joins the outstanding refresh if there is one, otherwise starts one,
// unless the session already moved past token.
func (g *RequestGate) await(ctx context.Context, token string) Outcome {
	p := newPendingRequest()
	if g.coordinator.enqueue(p) {
		select {
		case o := <-p.result:
			return o
		case <-ctx.Done():
			return Fail{Err: ctx.Err()}
		}
	}

	// A refresh may have settled between sending and getting here
	if current := g.store.Access(); current != "" && current != token {
		return Retry{Token: current}
	}
	return g.coordinator.Refresh(ctx)
}

func (g *RequestGate) send(req *http.Request, token string) (*Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), g.timeout)
	defer cancel()

	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		r.Body = body
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	} else {
		r.Header.Del("Authorization")
	}

	resp, err := g.doer.DoWithContext(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// bufferBody makes req's body replayable.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}
