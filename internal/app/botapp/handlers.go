package botapp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	tginfra "github.com/nkarpachev/emberchat/backend/internal/infra/telegram"
	chatsvc "github.com/nkarpachev/emberchat/backend/internal/services/chat"
	favsvc "github.com/nkarpachev/emberchat/backend/internal/services/favorites"
	invsvc "github.com/nkarpachev/emberchat/backend/internal/services/invites"
	matchsvc "github.com/nkarpachev/emberchat/backend/internal/services/match"
)

const welcomeText = "👋 Welcome! You chat anonymously here: nobody sees your identity, only your persona."

func mainMenu() []tginfra.MenuOption {
	return []tginfra.MenuOption{
		{Label: "🔍 Find a partner", Data: "menu:search"},
		{Label: "⭐ My favorites", Data: "conn:list"},
		{Label: "🤝 Invite a friend", Data: "invite:new"},
		{Label: "👁 Toggle my visibility", Data: "menu:vis"},
		{Label: "👻 Reset my persona", Data: "menu:anon"},
	}
}

func (a *App) handleCommand(ctx context.Context, update tginfra.CommandUpdate) error {
	switch strings.ToLower(strings.TrimSpace(update.Command)) {
	case "start":
		return a.handleStart(ctx, update)
	case "premium":
		return a.handlePremium(ctx, update)
	case "myid":
		if _, err := a.bot.Notify(ctx, update.ChatID, fmt.Sprintf("Your Telegram user id is: %d", update.UserID)); err != nil {
			a.logger.Debug("send user id", zap.Error(err))
		}
		return nil
	default:
		return nil
	}
}

// handleStart greets new and returning clients. A deep-link argument is
// treated as an invite token and redeemed before anything else.
func (a *App) handleStart(ctx context.Context, update tginfra.CommandUpdate) error {
	if _, err := a.profiles.Ensure(ctx, update.UserID); err != nil {
		a.logger.Error("ensure profile", zap.Int64("user_id", update.UserID), zap.Error(err))
		return nil
	}

	if token := strings.TrimSpace(update.Args); token != "" {
		a.redeemInvite(ctx, update.UserID, token)
		return nil
	}

	if _, err := a.bot.PresentMenu(ctx, update.UserID, welcomeText, mainMenu()); err != nil {
		a.logger.Warn("send main menu", zap.Int64("user_id", update.UserID), zap.Error(err))
	}
	return nil
}

func (a *App) redeemInvite(ctx context.Context, guestID int64, token string) {
	err := a.invites.Redeem(ctx, token, guestID)
	if err == nil {
		return
	}

	var notice string
	switch {
	case errors.Is(err, invsvc.ErrInviteInvalid):
		notice = "This invite link is invalid or has already been used."
	case errors.Is(err, invsvc.ErrInviteExpired):
		notice = "This invite link has expired."
	case errors.Is(err, invsvc.ErrSelfInvite):
		notice = "You cannot use your own invite link."
	case errors.Is(err, invsvc.ErrHostGone):
		notice = "The user who invited you is no longer waiting. The invite has been cancelled."
	default:
		a.logger.Error("redeem invite", zap.Int64("guest_id", guestID), zap.Error(err))
		notice = "Something went wrong with this invite. Please try again."
	}

	if _, nerr := a.bot.Notify(ctx, guestID, notice); nerr != nil {
		a.logger.Debug("send invite notice", zap.Int64("guest_id", guestID), zap.Error(nerr))
	}
}

func (a *App) handlePremium(ctx context.Context, update tginfra.CommandUpdate) error {
	if !slices.Contains(a.cfg.Bot.AdminIDs, update.UserID) {
		return nil
	}

	targetID, err := strconv.ParseInt(strings.TrimSpace(update.Args), 10, 64)
	if err != nil || targetID <= 0 {
		_, _ = a.bot.Notify(ctx, update.ChatID, "⚠️ Usage: /premium <user_id>")
		return nil
	}

	if err := a.profiles.GrantPremium(ctx, targetID); err != nil {
		a.logger.Error("grant premium", zap.Int64("target_id", targetID), zap.Error(err))
		_, _ = a.bot.Notify(ctx, update.ChatID, "Could not grant premium to that id.")
		return nil
	}

	if _, err := a.bot.Notify(ctx, update.ChatID, fmt.Sprintf("✅ User %d has been granted premium status.", targetID)); err != nil {
		a.logger.Debug("confirm premium grant", zap.Error(err))
	}
	if _, err := a.bot.Notify(ctx, targetID, "Congratulations! 💎 You now have Premium status!"); err != nil {
		a.logger.Debug("notify premium grant", zap.Int64("target_id", targetID), zap.Error(err))
	}
	return nil
}

// handleMessage is the in-chat hot path: the reply-keyboard exit buttons
// first, everything else relayed to the partner.
func (a *App) handleMessage(ctx context.Context, update tginfra.MessageUpdate) error {
	switch update.Text {
	case tginfra.NextButton, tginfra.StopButton:
		mode := chatsvc.ExitNext
		if update.Text == tginfra.StopButton {
			mode = chatsvc.ExitStop
		}
		if err := a.chat.ExitChat(ctx, update.UserID, mode); err != nil {
			if errors.Is(err, chatsvc.ErrNotInChat) {
				_, _ = a.bot.Notify(ctx, update.UserID, "You are not currently in a chat. Press /start to begin.")
				return nil
			}
			a.logger.Error("exit chat", zap.Int64("user_id", update.UserID), zap.Error(err))
		}
		return nil
	}

	err := a.chat.RelayInbound(ctx, update.UserID, update.MessageID, update.ReplyToMsgID)
	if err != nil && !errors.Is(err, chatsvc.ErrNotInChat) {
		a.logger.Warn("relay message", zap.Int64("user_id", update.UserID), zap.Error(err))
	}
	return nil
}

func (a *App) handleCallback(ctx context.Context, update tginfra.CallbackUpdate) error {
	data := strings.TrimSpace(update.Data)

	switch {
	case data == "menu:main":
		a.answer(ctx, update.CallbackID, "")
		a.deleteCallbackMessage(ctx, update)
		if _, err := a.bot.PresentMenu(ctx, update.UserID, "You are back in the main menu.", mainMenu()); err != nil {
			a.logger.Debug("send main menu", zap.Error(err))
		}
		return nil

	case data == "menu:search":
		return a.handleSearch(ctx, update)

	case data == "menu:vis":
		return a.handleVisibility(ctx, update)

	case data == "menu:anon":
		a.answer(ctx, update.CallbackID, "Persona reset.")
		if err := a.profiles.Anonymize(ctx, update.UserID); err != nil {
			a.logger.Error("anonymize", zap.Int64("user_id", update.UserID), zap.Error(err))
			return nil
		}
		_, _ = a.bot.Notify(ctx, update.UserID, "👻 Your persona is blank again. Past chats keep only what they saw.")
		return nil

	case data == matchsvc.CancelSearchData:
		a.answer(ctx, update.CallbackID, "Search cancelled.")
		if err := a.match.CancelWait(ctx, update.UserID); err != nil && !errors.Is(err, matchsvc.ErrNotWaiting) {
			a.logger.Error("cancel search", zap.Int64("user_id", update.UserID), zap.Error(err))
			return nil
		}
		if _, err := a.bot.PresentMenu(ctx, update.UserID, "You are back in the main menu.", mainMenu()); err != nil {
			a.logger.Debug("send main menu", zap.Error(err))
		}
		return nil

	case strings.HasPrefix(data, "fb:"):
		return a.handleFallback(ctx, update, data)

	case strings.HasPrefix(data, "fav:"):
		return a.handleFavorite(ctx, update, data)

	case strings.HasPrefix(data, "consent:"):
		return a.handleConsent(ctx, update, data)

	case strings.HasPrefix(data, "vibe:"):
		return a.handleVibe(ctx, update, data)

	case strings.HasPrefix(data, "conn:"):
		return a.handleConnections(ctx, update, data)

	case strings.HasPrefix(data, "rc:"):
		return a.handleReconnect(ctx, update, data)

	case strings.HasPrefix(data, "invite:"):
		return a.handleInvite(ctx, update, data)
	}

	a.answer(ctx, update.CallbackID, "Unknown action")
	return nil
}

func (a *App) handleSearch(ctx context.Context, update tginfra.CallbackUpdate) error {
	a.answer(ctx, update.CallbackID, "")
	a.deleteCallbackMessage(ctx, update)

	if err := a.match.Enqueue(ctx, update.UserID); err != nil {
		if errors.Is(err, matchsvc.ErrBusy) {
			_, _ = a.bot.Notify(ctx, update.UserID, "You are already searching or chatting. Finish that first.")
			return nil
		}
		a.logger.Error("enqueue", zap.Int64("user_id", update.UserID), zap.Error(err))
	}
	return nil
}

// handleVisibility flips whether favorites see this client as available. The
// toggle is a premium perk; everyone else stays visible.
func (a *App) handleVisibility(ctx context.Context, update tginfra.CallbackUpdate) error {
	prof, err := a.profiles.Get(ctx, update.UserID)
	if err != nil {
		a.logger.Error("load profile", zap.Int64("user_id", update.UserID), zap.Error(err))
		a.answer(ctx, update.CallbackID, "")
		return nil
	}
	if !prof.IsPremium {
		a.answer(ctx, update.CallbackID, "Hiding from favorites is a premium feature.")
		return nil
	}

	visible := !prof.ShowActive
	if err := a.profiles.SetVisibility(ctx, update.UserID, visible); err != nil {
		a.logger.Error("toggle visibility", zap.Int64("user_id", update.UserID), zap.Error(err))
		a.answer(ctx, update.CallbackID, "")
		return nil
	}

	if visible {
		a.answer(ctx, update.CallbackID, "🟢 Favorites can now see when you are free.")
	} else {
		a.answer(ctx, update.CallbackID, "🙈 You are now hidden from your favorites.")
	}
	return nil
}

func (a *App) handleFallback(ctx context.Context, update tginfra.CallbackUpdate, data string) error {
	a.answer(ctx, update.CallbackID, "")

	var err error
	switch {
	case data == matchsvc.FallbackIntentData:
		err = a.match.SwitchIntentOpen(ctx, update.UserID)
	case data == matchsvc.FallbackAnyoneData:
		err = a.match.MatchAnyone(ctx, update.UserID)
	case data == matchsvc.FallbackKeepData:
		err = a.match.KeepWaiting(ctx, update.UserID)
	default:
		prefs, ok := matchsvc.ParseFallbackPref(data)
		if !ok {
			return nil
		}
		err = a.match.Broaden(ctx, update.UserID, prefs)
	}
	if err != nil && !errors.Is(err, matchsvc.ErrNotWaiting) && !errors.Is(err, matchsvc.ErrBusy) {
		a.logger.Error("apply fallback choice",
			zap.Int64("user_id", update.UserID), zap.String("data", data), zap.Error(err))
	}
	return nil
}

func (a *App) handleFavorite(ctx context.Context, update tginfra.CallbackUpdate, data string) error {
	if data == chatsvc.FavoriteLaterData {
		a.answer(ctx, update.CallbackID, "Okay, you can decide in a future chat.")
		a.deleteCallbackMessage(ctx, update)
		return nil
	}

	chatID, ok := parseSuffixID(data, "fav:add:")
	if !ok {
		a.answer(ctx, update.CallbackID, "Unknown action")
		return nil
	}

	a.answer(ctx, update.CallbackID, "")
	a.deleteCallbackMessage(ctx, update)

	if err := a.favorites.Flag(ctx, update.UserID, chatID); err != nil {
		if errors.Is(err, favsvc.ErrChatExpired) {
			_, _ = a.bot.Notify(ctx, update.UserID, "❗️ This chat session has expired.")
			return nil
		}
		a.logger.Error("flag favorite", zap.Int64("user_id", update.UserID), zap.Error(err))
	}
	return nil
}

func (a *App) handleConsent(ctx context.Context, update tginfra.CallbackUpdate, data string) error {
	accepted := strings.HasPrefix(data, "consent:yes:")
	prefix := "consent:no:"
	if accepted {
		prefix = "consent:yes:"
	}

	initiatorID, ok := parseSuffixID(data, prefix)
	if !ok {
		a.answer(ctx, update.CallbackID, "Unknown action")
		return nil
	}

	a.answer(ctx, update.CallbackID, "")
	a.deleteCallbackMessage(ctx, update)

	if !accepted {
		_, _ = a.bot.Notify(ctx, update.UserID, "You have declined the request.")
	}
	if err := a.favorites.Consent(ctx, update.UserID, initiatorID, accepted); err != nil {
		a.logger.Error("settle consent", zap.Int64("user_id", update.UserID), zap.Error(err))
	}
	return nil
}

func (a *App) handleVibe(ctx context.Context, update tginfra.CallbackUpdate, data string) error {
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		a.answer(ctx, update.CallbackID, "Unknown action")
		return nil
	}

	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		a.answer(ctx, update.CallbackID, "Unknown action")
		return nil
	}
	tag, ok := enums.ParseFeedbackTag(parts[2])
	if !ok {
		a.answer(ctx, update.CallbackID, "Unknown action")
		return nil
	}

	a.answer(ctx, update.CallbackID, "Thanks for your feedback!")
	a.deleteCallbackMessage(ctx, update)

	if err := a.chat.RecordFeedback(ctx, update.UserID, chatID, tag); err != nil {
		a.logger.Warn("record feedback", zap.Int64("user_id", update.UserID), zap.Error(err))
	}
	return nil
}

func (a *App) handleConnections(ctx context.Context, update tginfra.CallbackUpdate, data string) error {
	switch {
	case data == "conn:list":
		a.answer(ctx, update.CallbackID, "")
		a.deleteCallbackMessage(ctx, update)
		a.sendFavoritesList(ctx, update.UserID)
		return nil

	case strings.HasPrefix(data, "conn:rm:"):
		peerID, ok := parseSuffixID(data, "conn:rm:")
		if !ok {
			a.answer(ctx, update.CallbackID, "Unknown action")
			return nil
		}
		a.answer(ctx, update.CallbackID, "Favorite removed.")
		a.deleteCallbackMessage(ctx, update)
		if err := a.favorites.Remove(ctx, update.UserID, peerID); err != nil && !errors.Is(err, favsvc.ErrNotConnected) {
			a.logger.Error("remove favorite", zap.Int64("user_id", update.UserID), zap.Error(err))
		}
		a.sendFavoritesList(ctx, update.UserID)
		return nil

	case strings.HasPrefix(data, "conn:rc:"):
		peerID, ok := parseSuffixID(data, "conn:rc:")
		if !ok {
			a.answer(ctx, update.CallbackID, "Unknown action")
			return nil
		}
		a.answer(ctx, update.CallbackID, "Sending request...")
		if err := a.favorites.RequestReconnect(ctx, update.UserID, peerID); err != nil {
			if errors.Is(err, favsvc.ErrNotConnected) {
				_, _ = a.bot.Notify(ctx, update.UserID, "That favorite is gone.")
				return nil
			}
			a.logger.Error("request reconnect", zap.Int64("user_id", update.UserID), zap.Error(err))
		}
		return nil
	}

	a.answer(ctx, update.CallbackID, "Unknown action")
	return nil
}

func (a *App) sendFavoritesList(ctx context.Context, userID int64) {
	favorites, err := a.favorites.List(ctx, userID)
	if err != nil {
		a.logger.Error("list favorites", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	if len(favorites) == 0 {
		if _, err := a.bot.PresentMenu(ctx, userID, "You have no saved favorites yet.", mainMenu()); err != nil {
			a.logger.Debug("send empty favorites list", zap.Error(err))
		}
		return
	}

	options := make([]tginfra.MenuOption, 0, 2*len(favorites)+1)
	for _, fav := range favorites {
		dot := "⚪️"
		if fav.Available {
			dot = "🟢"
		}
		options = append(options,
			tginfra.MenuOption{
				Label: fmt.Sprintf("💬 Chat with %s %s", dot, fav.Name),
				Data:  fmt.Sprintf("conn:rc:%d", fav.PeerID),
			},
			tginfra.MenuOption{
				Label: fmt.Sprintf("🗑️ Remove %s", fav.Name),
				Data:  fmt.Sprintf("conn:rm:%d", fav.PeerID),
			},
		)
	}
	options = append(options, tginfra.MenuOption{Label: "⬅️ Back to main menu", Data: "menu:main"})

	text := "Here are your favorites. Green (🟢) means they are available to chat right now."
	if _, err := a.bot.PresentMenu(ctx, userID, text, options); err != nil {
		a.logger.Debug("send favorites list", zap.Error(err))
	}
}

func (a *App) handleReconnect(ctx context.Context, update tginfra.CallbackUpdate, data string) error {
	parts := strings.Split(data, ":")
	if len(parts) != 4 {
		a.answer(ctx, update.CallbackID, "Unknown action")
		return nil
	}

	accept := parts[1] == "yes"
	initiatorID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || initiatorID <= 0 {
		a.answer(ctx, update.CallbackID, "Unknown action")
		return nil
	}
	interrupt := parts[3] == "1"

	a.deleteCallbackMessage(ctx, update)

	if accept {
		a.answer(ctx, update.CallbackID, "Connecting...")
		if err := a.favorites.AcceptReconnect(ctx, update.UserID, initiatorID, interrupt); err != nil {
			a.logger.Error("accept reconnect", zap.Int64("user_id", update.UserID), zap.Error(err))
		}
		return nil
	}

	a.answer(ctx, update.CallbackID, "")
	if interrupt {
		_, _ = a.bot.Notify(ctx, update.UserID, "Okay, you will remain in your current chat.")
	} else {
		_, _ = a.bot.Notify(ctx, update.UserID, "You have declined the chat request.")
	}
	if err := a.favorites.DeclineReconnect(ctx, update.UserID, initiatorID); err != nil {
		a.logger.Error("decline reconnect", zap.Int64("user_id", update.UserID), zap.Error(err))
	}
	return nil
}

func (a *App) handleInvite(ctx context.Context, update tginfra.CallbackUpdate, data string) error {
	switch {
	case data == "invite:new":
		a.answer(ctx, update.CallbackID, "")
		a.deleteCallbackMessage(ctx, update)

		created, err := a.invites.Create(ctx, update.UserID)
		if err != nil {
			if errors.Is(err, invsvc.ErrHostBusy) {
				_, _ = a.bot.Notify(ctx, update.UserID, "Finish your current search or chat before inviting a friend.")
				return nil
			}
			a.logger.Error("create invite", zap.Int64("user_id", update.UserID), zap.Error(err))
			return nil
		}

		text := "Your private invite link is ready.\n\n" +
			"🔗 Share this link with your friend:\n" + created.Link + "\n\n" +
			"This link is for one person and will expire in 5 minutes. I will connect you as soon as they click it."
		options := []tginfra.MenuOption{
			{Label: "❌ Cancel invite", Data: "invite:cancel:" + created.Token},
		}
		if _, err := a.bot.PresentMenu(ctx, update.UserID, text, options); err != nil {
			a.logger.Warn("send invite link", zap.Int64("user_id", update.UserID), zap.Error(err))
		}
		if len(created.QR) > 0 {
			if _, err := a.bot.SendPhoto(ctx, update.UserID, "invite.png", created.QR, "Or let them scan this."); err != nil {
				a.logger.Debug("send invite qr", zap.Int64("user_id", update.UserID), zap.Error(err))
			}
		}
		return nil

	case strings.HasPrefix(data, "invite:cancel:"):
		token := strings.TrimPrefix(data, "invite:cancel:")
		a.answer(ctx, update.CallbackID, "Invite cancelled.")
		a.deleteCallbackMessage(ctx, update)
		if err := a.invites.Cancel(ctx, update.UserID, token); err != nil {
			a.logger.Error("cancel invite", zap.Int64("user_id", update.UserID), zap.Error(err))
			return nil
		}
		if _, err := a.bot.PresentMenu(ctx, update.UserID, "You are back in the main menu.", mainMenu()); err != nil {
			a.logger.Debug("send main menu", zap.Error(err))
		}
		return nil
	}

	a.answer(ctx, update.CallbackID, "Unknown action")
	return nil
}

func (a *App) answer(ctx context.Context, callbackID, text string) {
	if err := a.bot.AnswerCallback(ctx, callbackID, text); err != nil {
		a.logger.Debug("answer callback", zap.Error(err))
	}
}

func (a *App) deleteCallbackMessage(ctx context.Context, update tginfra.CallbackUpdate) {
	if update.ChatID == 0 || update.MessageID == 0 {
		return
	}
	if err := a.bot.DeleteMessage(ctx, update.ChatID, update.MessageID); err != nil {
		a.logger.Debug("delete callback message", zap.Error(err))
	}
}

func parseSuffixID(data, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(data, prefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
