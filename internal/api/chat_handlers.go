package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/repchat/internal/chat"
	"github.com/repchat/internal/conversation"
)

func (s *Server) startChat(c echo.Context) error {
	var req startChatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	customer, err := req.customer()
	if err != nil {
		return err
	}
	rep, err := req.repPhone()
	if err != nil {
		return err
	}

	res, err := s.deps.Chat.StartChat(c.Request().Context(), chat.StartInput{Customer: customer, RepPhone: rep, Profile: req.Profile})
	if err != nil {
		return err
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	return c.JSON(code, res)
}

func (s *Server) getConversation(c echo.Context) error {
	conv, err := s.deps.Chat.Conversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) listMessages(c echo.Context) error {
	entries, err := s.deps.Chat.Transcript(c.Request().Context(), c.Param("id"), c.QueryParam("recipient"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) sendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Chat.SendMessage(c.Request().Context(), chat.SendInput{
		ConversationID: c.Param("id"),
		Sender:         conversation.Sender(req.Sender),
		SenderID:       req.SenderID,
		Content:        req.Content,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) editMessage(c echo.Context) error {
	var req editMessageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	msg, err := s.deps.Chat.EditMessage(c.Request().Context(), c.Param("id"), c.Param("msgID"), req.EditorID, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) markDelivered(c echo.Context) error {
	var req participantRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	n, err := s.deps.Chat.MarkDelivered(c.Request().Context(), c.Param("id"), req.ParticipantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, countResponse{Updated: n})
}

func (s *Server) markRead(c echo.Context) error {
	var req participantRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	n, err := s.deps.Chat.MarkRead(c.Request().Context(), c.Param("id"), req.ParticipantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, countResponse{Updated: n})
}

func (s *Server) getTyping(c echo.Context) error {
	if _, err := s.deps.Chat.Conversation(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, typingResponse{Participants: s.deps.Chat.Typing(c.Param("id"))})
}

func (s *Server) setTyping(c echo.Context) error {
	var req typingRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	who, err := s.deps.Chat.SetTyping(c.Request().Context(), c.Param("id"), req.ParticipantID, req.Typing)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, typingResponse{Participants: who})
}

func (s *Server) transferToHuman(c echo.Context) error {
	var req transferRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Handoff.TransferToHuman(c.Request().Context(), c.Param("id"), req.Intake)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transferResponse{
		Conversation: res.Conversation,
		Message:      res.Message,
		Bridge:       res.Bridge,
		Notification: res.Notification,
	})
}
