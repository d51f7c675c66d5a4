package ai

import (
	"context"
	"fmt"
	"sync"
)

// stubPixel: PNG 1x1, чтобы офлайн-режим отдавал настоящую картинку.
const stubPixel = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8DwHwAFBQIAX8jx0gAAAABJRU5ErkJggg=="

// StubAssistant заглушка, которая не делает реальных запросов. Нужна для запуска реле без ключей (-stub).
type StubAssistant struct {
	mu   sync.Mutex
	last map[string]string // threadID → последнее сообщение
	seq  int
}

func NewStubAssistant() *StubAssistant { return &StubAssistant{last: make(map[string]string)} }

func (s *StubAssistant) RunTurn(_ context.Context, in TurnInput) (Job, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	threadID := in.ThreadID
	if threadID == "" {
		s.seq++
		threadID = fmt.Sprintf("thread_stub_%d", s.seq)
	}
	msg := in.Message
	if msg == "" && in.Attachment != nil {
		msg = in.Attachment.Name
	}
	s.last[threadID] = msg
	return Job{ID: "run_stub", Status: RunStatusCompleted, Attempts: 1}, threadID, nil
}

func (s *StubAssistant) Extract(_ context.Context, threadID string) (ExtractedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.last[threadID]
	if !ok {
		return ExtractedResult{}, &Error{Kind: KindExtraction, Status: 400, Msg: "No assistant response found"}
	}
	return ExtractedResult{Text: "запрос получен: " + msg}, nil
}

func (s *StubAssistant) Generate(_ context.Context, _ FallbackRequest) (string, error) {
	return stubPixel, nil
}
