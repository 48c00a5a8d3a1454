package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/api/auth"
	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/sales"
)

func (s *Server) setConversationStatus(c echo.Context) error {
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	conv, err := s.deps.Chat.SetStatus(c.Request().Context(), c.Param("id"), conversation.Status(req.Status))
	if err != nil {
		return err
	}
	log.Info().Str("actor", auth.Actor(c)).Str("conversation_id", conv.ID).Str("status", req.Status).Msg("status set by admin")
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) markSale(c echo.Context) error {
	var req markSaleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	date := time.Now().UTC()
	if req.Date != nil {
		date = *req.Date
	}
	res, err := s.deps.Sales.MarkSale(c.Request().Context(), sales.MarkSaleInput{
		ConversationID: c.Param("id"),
		Amount:         req.Amount,
		Details:        req.Details,
		Date:           date,
		Notes:          req.Notes,
		Actor:          auth.Actor(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) getSale(c echo.Context) error {
	sale, err := s.deps.Sales.GetSale(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sale)
}

func (s *Server) setSaleStatus(c echo.Context) error {
	var req saleStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sale, err := s.deps.Sales.SetSaleStatus(c.Request().Context(), c.Param("id"), sales.Status(req.Status), req.Reason, auth.Actor(c))
	if err != nil {
		if sale != nil {
			// The status changed but its audit entry was not written.
			log.Error().Err(err).Str("sale_id", sale.ID).Msg("sale status changed without audit entry")
		}
		return err
	}
	return c.JSON(http.StatusOK, sale)
}

func (s *Server) listAudit(c echo.Context) error {
	entries, err := s.deps.Sales.ListAudit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) getEvidence(c echo.Context) error {
	ev, err := s.deps.Sales.GetEvidence(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ev)
}

func (s *Server) previewMerge(c echo.Context) error {
	report, err := s.deps.Merger.PreviewDuplicates(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// runMerge queues a merge job when a queue is configured, otherwise merges
// inline and returns the report.
func (s *Server) runMerge(c echo.Context) error {
	actor := auth.Actor(c)
	if s.deps.Queue != nil {
		id, err := s.deps.Queue.QueueMergeDuplicates(c.Request().Context(), actor)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, mergeQueuedResponse{JobID: id})
	}

	report, err := s.deps.Merger.MergeDuplicates(c.Request().Context())
	if err != nil {
		return err
	}
	log.Info().Str("actor", actor).Int("groups", len(report.Groups)).Int("failed_groups", report.FailedGroups()).Msg("inline merge finished")
	return c.JSON(http.StatusOK, report)
}
