package session

import "AssistantRelay/internal/intent"

// Session состояние диалога на стороне клиента. Реле его не хранит: всё, что нужно
// для продолжения (thread, история промптов, последняя картинка), клиент присылает сам.
type Session struct {
	ThreadID        string   `json:"threadId,omitempty"`
	PromptHistory   []string `json:"promptHistory,omitempty"`
	LastImageURL    string   `json:"lastImageUrl,omitempty"`
	LastImageBase64 string   `json:"lastImageBase64,omitempty"`
	maxHistory      int
}

// New создаёт пустую сессию. maxHistory ограничивает историю промптов, 0: без ограничения.
func New(maxHistory int) *Session {
	if maxHistory < 0 {
		maxHistory = 0
	}
	return &Session{maxHistory: maxHistory}
}

// ApplyTurn обновляет сессию по итогам реплики.
// Картинка получена: прямой запрос начинает историю заново, правка (или уже начатая цепочка) дописывает.
// Без картинки история не меняется. Thread из ответа сохраняется всегда.
func (s *Session) ApplyTurn(message string, in intent.Intent, threadID, imageURL string) {
	if threadID != "" {
		s.ThreadID = threadID
	}
	if imageURL == "" {
		return
	}
	switch {
	case in.IsDirect:
		s.PromptHistory = []string{message}
	case in.IsEdit || len(s.PromptHistory) > 0:
		s.PromptHistory = append(s.PromptHistory, message)
		if s.maxHistory > 0 && len(s.PromptHistory) > s.maxHistory {
			// Оставляем последние maxHistory промптов
			s.PromptHistory = s.PromptHistory[len(s.PromptHistory)-s.maxHistory:]
		}
	}
}

// SetImage запоминает последнюю картинку: URL для показа и base64 для следующей правки.
func (s *Session) SetImage(url, base64 string) {
	s.LastImageURL = url
	s.LastImageBase64 = base64
}

// History возвращает копию истории промптов.
func (s *Session) History() []string {
	return append([]string(nil), s.PromptHistory...)
}

// Reset начинает новую сессию: новый thread, пустая история, без картинки.
func (s *Session) Reset() {
	s.ThreadID = ""
	s.PromptHistory = nil
	s.LastImageURL = ""
	s.LastImageBase64 = ""
}
