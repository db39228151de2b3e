// Package notify adapts notification_service.go's Telegram approval-flow
// idiom to Croupier's own events: emergency-sweep confirmation, circuit
// breaker trips, and reconciliation drift, instead of whale-signal
// approvals.
package notify

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const chatIDFile = "chat_id.txt"

// Service wraps a Telegram bot and the persistent chat-id file, same shape
// as the teacher's NotificationService.
type Service struct {
	bot    *tgbotapi.BotAPI
	chatID int64

	mu               sync.Mutex
	pendingEmergency map[string]func()
}

// New initializes the bot from TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID. Returns
// nil (disabled) if the token is absent, matching the teacher's
// "notifications disabled" fallback rather than failing startup.
func New(chatIDPath string) *Service {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("⚠️ TELEGRAM_BOT_TOKEN not found. Notifications disabled.")
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("⚠️ Failed to init Telegram Bot: %v", err)
		return nil
	}
	log.Printf("✅ Authorized on account %s", bot.Self.UserName)

	if chatIDPath == "" {
		chatIDPath = chatIDFile
	}

	var chatID int64
	if s := os.Getenv("TELEGRAM_CHAT_ID"); s != "" {
		chatID, _ = strconv.ParseInt(s, 10, 64)
	}

	svc := &Service{bot: bot, chatID: chatID, pendingEmergency: make(map[string]func())}
	if chatID == 0 {
		svc.chatID = svc.loadChatID(chatIDPath)
	}
	if svc.chatID != 0 {
		log.Printf("✅ Loaded Persistent Chat ID: %d", svc.chatID)
	}
	return svc
}

func (s *Service) loadChatID(path string) int64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (s *Service) saveChatID(path string, id int64) {
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", id)), 0644); err != nil {
		log.Printf("⚠️ Failed to save Chat ID: %v", err)
		return
	}
	log.Println("💾 Chat ID Saved Persistently.")
}

// Callbacks bundles the handlers StartEventListener dispatches to, mirroring
// the teacher's status/start/stop/report command surface.
type Callbacks struct {
	Status func() string
	Stop   func()
	Report func() string
}

// StartEventListener polls Telegram updates for commands and emergency-sweep
// confirmation callbacks. Blocks until the updates channel closes, so
// callers run it in its own goroutine.
func (s *Service) StartEventListener(chatIDPath string, cb Callbacks) {
	if s == nil || s.bot == nil {
		return
	}
	if chatIDPath == "" {
		chatIDPath = chatIDFile
	}
	log.Println("📢 TELEGRAM: Listening for events...")
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.bot.GetUpdatesChan(u)

	for update := range updates {
		if update.CallbackQuery != nil {
			s.handleCallback(update.CallbackQuery)
			continue
		}
		if update.Message == nil {
			continue
		}
		if s.chatID == 0 {
			s.chatID = update.Message.Chat.ID
			log.Printf("✅ TELEGRAM CHAT ID DETECTED: %d", s.chatID)
			s.Notify("🔔 Croupier connected! Notifications enabled.")
		}
		if !update.Message.IsCommand() {
			continue
		}
		switch update.Message.Command() {
		case "status":
			if cb.Status != nil {
				s.Notify(cb.Status())
			}
		case "start":
			if s.chatID == 0 || s.chatID != update.Message.Chat.ID {
				s.chatID = update.Message.Chat.ID
				s.saveChatID(chatIDPath, s.chatID)
				log.Printf("✅ TELEGRAM CHAT ID CAPTURED & SAVED: %d", s.chatID)
			}
			s.Notify("🚀 *Connection established.* Croupier is monitoring your session.")
		case "stop":
			s.Notify("🛑 **EMERGENCY STOP TRIGGERED**\nCancelling orders, closing positions, shutting down.")
			if cb.Stop != nil {
				cb.Stop()
			}
		case "report":
			if cb.Report != nil {
				s.Notify(cb.Report())
			}
		}
	}
}

func (s *Service) handleCallback(q *tgbotapi.CallbackQuery) {
	data := q.Data
	if strings.HasPrefix(data, "CONFIRM_SWEEP_") {
		id := strings.TrimPrefix(data, "CONFIRM_SWEEP_")
		s.mu.Lock()
		fn, ok := s.pendingEmergency[id]
		delete(s.pendingEmergency, id)
		s.mu.Unlock()
		if ok {
			s.bot.Send(tgbotapi.NewCallback(q.ID, "🚀 Sweeping..."))
			s.Notify("✅ **CONFIRMED**. Emergency sweep in progress.")
			fn()
		} else {
			s.bot.Send(tgbotapi.NewCallback(q.ID, "⚠️ Expired"))
		}
		return
	}
	if strings.HasPrefix(data, "CANCEL_SWEEP_") {
		id := strings.TrimPrefix(data, "CANCEL_SWEEP_")
		s.mu.Lock()
		delete(s.pendingEmergency, id)
		s.mu.Unlock()
		s.bot.Send(tgbotapi.NewCallback(q.ID, "🗑️ Cancelled"))
	}
}

// AskEmergencySweepConfirm sends an interactive alert with confirm/cancel
// buttons before an operator-triggered (non-watchdog) emergency sweep runs.
func (s *Service) AskEmergencySweepConfirm(id, reason string, onConfirm func()) {
	if s == nil || s.bot == nil || s.chatID == 0 {
		return
	}
	s.mu.Lock()
	s.pendingEmergency[id] = onConfirm
	s.mu.Unlock()

	msg := tgbotapi.NewMessage(s.chatID, fmt.Sprintf("🚨 **EMERGENCY SWEEP REQUESTED**\nReason: %s\nConfirm to cancel all orders and close positions.", reason))
	msg.ParseMode = "Markdown"
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ CONFIRM", "CONFIRM_SWEEP_"+id),
			tgbotapi.NewInlineKeyboardButtonData("❌ CANCEL", "CANCEL_SWEEP_"+id),
		),
	)
	if _, err := s.bot.Send(msg); err != nil {
		log.Printf("⚠️ Failed to send emergency sweep confirmation: %v", err)
	}
}

// NotifyBreakerTrip alerts on a circuit breaker opening, per spec.md §4.13.
func (s *Service) NotifyBreakerTrip(name string, consecutiveFailures int) {
	s.Notify(fmt.Sprintf("⚡ **CIRCUIT BREAKER OPEN**: %s\nConsecutive failures: %d", name, consecutiveFailures))
}

// NotifyReconcileDrift alerts when a reconciliation pass had to repair
// tracker/exchange drift (spec.md §4.10's integrity_check_failed flag).
func (s *Service) NotifyReconcileDrift(symbol string) {
	s.Notify(fmt.Sprintf("🧩 **RECONCILIATION DRIFT**: %s required repair.", symbol))
}

// Notify sends a message asynchronously; a no-op on a disabled/un-configured
// service, matching the teacher's nil-safe Notify.
func (s *Service) Notify(msg string) {
	if s == nil || s.bot == nil || s.chatID == 0 {
		return
	}
	go func() {
		cfg := tgbotapi.NewMessage(s.chatID, msg)
		cfg.ParseMode = "Markdown"
		if _, err := s.bot.Send(cfg); err != nil {
			log.Printf("⚠️ Failed to send Telegram: %v", err)
		}
	}()
}
