package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/notice"
)

// Admin actions accepted by POST /admin/db.
const (
	ActionAddSubscriber    = "add_subscriber"
	ActionRemoveSubscriber = "remove_subscriber"
	ActionClearSubscribers = "clear_subscribers"
	ActionClearSentPosts   = "clear_sent_posts"
)

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"service":  s.opts.Service,
		"platform": s.opts.Platform,
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		s.logger.Warn("ledger not ready", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type triggerResponse struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	PostsCount      int    `json:"posts_count"`
	TotalSent       int    `json:"total_sent"`
	RecipientsCount int    `json:"recipients_count"`
	Failed          int    `json:"failed"`
}

func (s *Server) crawlAndNotify(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(zap.String("request_id", requestID(r.Context())))
	logger.Info("crawl and notify triggered")

	// A started cycle runs to completion even if the caller goes away.
	report, err := s.cycle.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		logger.Error("cycle failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "작업 오류: "+err.Error())
		return
	}
	msg := "새 공지 없음"
	if report.PostsCount > 0 {
		msg = fmt.Sprintf("새 공지 %d개 발송 완료", report.PostsCount)
	}
	writeJSON(w, http.StatusOK, triggerResponse{
		Status:          "success",
		Message:         msg,
		PostsCount:      report.PostsCount,
		TotalSent:       report.TotalSent,
		RecipientsCount: report.RecipientsCount,
		Failed:          report.Failed,
	})
}

type latestPost struct {
	Title  string `json:"title"`
	Link   string `json:"link"`
	IsSent bool   `json:"is_sent"`
}

type statusResponse struct {
	Status        string      `json:"status"`
	CrawlerStatus string      `json:"crawler_status"`
	LatestPost    *latestPost `json:"latest_post,omitempty"`
	Message       string      `json:"message"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	latest, err := s.cycle.Latest(r.Context())
	var fetchErr *notice.FetchError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{
			Status:        "success",
			CrawlerStatus: "working",
			LatestPost: &latestPost{
				Title:  latest.Post.Title,
				Link:   latest.Post.Link,
				IsSent: latest.Delivered,
			},
			Message: "크롤러가 정상적으로 작동하고 있습니다.",
		})
	case errors.Is(err, notice.ErrNoPosts), errors.As(err, &fetchErr):
		s.logger.Warn("status check could not read the board", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, statusResponse{
			Status:        "error",
			CrawlerStatus: "failed",
			Message:       "크롤링에 실패했습니다.",
		})
	default:
		s.logger.Error("status check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, statusResponse{
			Status:        "error",
			CrawlerStatus: "error",
			Message:       "상태 확인 중 오류가 발생했습니다: " + err.Error(),
		})
	}
}

func (s *Server) adminList(w http.ResponseWriter, r *http.Request) {
	subscribers, err := s.ledger.ListSubscribers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB 관리 중 오류: "+err.Error())
		return
	}
	if subscribers == nil {
		subscribers = []string{}
	}
	delivered, err := s.ledger.CountDelivered(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB 관리 중 오류: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "success",
		"subscribers":       subscribers,
		"subscribers_count": len(subscribers),
		"sent_posts_count":  delivered,
	})
}

// chatID accepts both JSON strings and numbers.
type chatID string

func (c *chatID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode chat_id: %w", err)
		}
		*c = chatID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode chat_id: %w", err)
	}
	*c = chatID(n.String())
	return nil
}

type adminRequest struct {
	Action string `json:"action"`
	ChatID chatID `json:"chat_id"`
}

func (s *Server) adminAction(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ctx := r.Context()
	id := notice.NormalizeSubscriberID(string(req.ChatID))
	logger := s.logger.With(zap.String("action", req.Action), zap.String("chat_id", id))

	var (
		msg     string
		removed int64
		err     error
	)
	switch req.Action {
	case ActionAddSubscriber, ActionRemoveSubscriber:
		if id == "" {
			writeError(w, http.StatusBadRequest, "chat_id가 필요합니다")
			return
		}
		if req.Action == ActionAddSubscriber {
			_, err = s.ledger.AddSubscriber(ctx, id)
			msg = fmt.Sprintf("구독자 %s 추가됨", id)
		} else {
			_, err = s.ledger.RemoveSubscriber(ctx, id)
			msg = fmt.Sprintf("구독자 %s 제거됨", id)
		}
	case ActionClearSubscribers:
		removed, err = s.ledger.ClearSubscribers(ctx)
		msg = "모든 구독자 제거됨"
	case ActionClearSentPosts:
		removed, err = s.ledger.ClearDelivered(ctx)
		msg = "발송된 게시글 기록 제거됨"
	default:
		writeError(w, http.StatusBadRequest, "알 수 없는 액션")
		return
	}
	if err != nil {
		logger.Error("admin action failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "DB 관리 중 오류: "+err.Error())
		return
	}
	logger.Info("admin action applied", zap.Int64("removed", removed))
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": msg, "removed": removed})
}
