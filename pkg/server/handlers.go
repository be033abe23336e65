package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	"xiaoshouji/pkg/chat"
	"xiaoshouji/pkg/persona"
)

type createContactRequest struct {
	Name   string `json:"name" binding:"required"`
	Remark string `json:"remark"`
}

type updateContactRequest struct {
	Remark string `json:"remark"`
}

type sendMessageRequest struct {
	Text  string       `json:"text"`
	Mode  persona.Mode `json:"mode"`
	Image *struct {
		URL         string `json:"url" binding:"required"`
		Description string `json:"description"`
	} `json:"image"`
	RedPacket *struct {
		Amount float64 `json:"amount" binding:"required"`
		Note   string  `json:"note"`
	} `json:"redPacket"`
}

type activeRequest struct {
	ConversationID string `json:"conversationId"`
}

// Contacts

func (s *Server) listContacts(c *gin.Context) {
	contacts, err := s.repo.Contacts(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	if contacts == nil {
		contacts = []persona.Contact{}
	}
	success(c, contacts)
}

func (s *Server) createContact(c *gin.Context) {
	var req createContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		badRequest(c, "name is required")
		return
	}

	contact, err := s.repo.AddContact(c.Request.Context(), name, strings.TrimSpace(req.Remark))
	if err != nil {
		errorResponse(c, err)
		return
	}
	created(c, contact)
}

func (s *Server) updateContact(c *gin.Context) {
	var req updateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	contact, err := s.repo.SetRemark(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Remark))
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, contact)
}

func (s *Server) deleteContact(c *gin.Context) {
	id := c.Param("id")
	if err := s.svc.DeleteContact(c.Request.Context(), id); err != nil {
		errorResponse(c, err)
		return
	}
	success(c, nil)
}

// Settings

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.repo.Settings(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, settings)
}

func (s *Server) putSettings(c *gin.Context) {
	var settings persona.CharacterSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		badRequest(c, "invalid settings: "+err.Error())
		return
	}

	var err error
	if settings.Avatar != "" {
		if settings.Avatar, err = s.images.NormalizeAvatar(settings.Avatar); err != nil {
			badRequest(c, "invalid avatar: "+err.Error())
			return
		}
	}
	if settings.MomentsCover != "" {
		if settings.MomentsCover, err = s.images.NormalizeCover(settings.MomentsCover); err != nil {
			badRequest(c, "invalid moments cover: "+err.Error())
			return
		}
	}

	saved, err := s.repo.SaveSettings(c.Request.Context(), c.Param("id"), settings)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, saved)
}

// Worldbook

func bindLore(c *gin.Context) ([]persona.WorldbookEntry, bool) {
	var entries []persona.WorldbookEntry
	if err := c.ShouldBindJSON(&entries); err != nil {
		badRequest(c, "invalid worldbook: "+err.Error())
		return nil, false
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			badRequest(c, err.Error())
			return nil, false
		}
	}
	return entries, true
}

func (s *Server) getLocalLore(c *gin.Context) {
	entries, err := s.repo.LocalLore(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	if entries == nil {
		entries = []persona.WorldbookEntry{}
	}
	success(c, entries)
}

func (s *Server) putLocalLore(c *gin.Context) {
	entries, ok := bindLore(c)
	if !ok {
		return
	}
	saved, err := s.repo.SaveLocalLore(c.Request.Context(), c.Param("id"), entries)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, saved)
}

func (s *Server) getGlobalLore(c *gin.Context) {
	entries, err := s.repo.GlobalLore(c.Request.Context(), c.Param("app"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	if entries == nil {
		entries = []persona.WorldbookEntry{}
	}
	success(c, entries)
}

func (s *Server) putGlobalLore(c *gin.Context) {
	entries, ok := bindLore(c)
	if !ok {
		return
	}
	saved, err := s.repo.SaveGlobalLore(c.Request.Context(), c.Param("app"), entries)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, saved)
}

// Messages

func (s *Server) listMessages(c *gin.Context) {
	msgs, err := s.svc.Log().Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	success(c, msgs)
}

func (s *Server) sendMessage(c *gin.Context) {
	id := c.Param("id")
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if _, err := s.repo.Contact(c.Request.Context(), id); err != nil {
		errorResponse(c, err)
		return
	}

	in := chat.Input{Text: req.Text, Mode: req.Mode}
	if req.Image != nil {
		in.Image = &chat.Image{URL: req.Image.URL, Description: req.Image.Description}
	}
	if req.RedPacket != nil {
		in.RedPacket = &chat.RedPacketInput{Amount: req.RedPacket.Amount, Note: req.RedPacket.Note}
	}

	out, err := s.svc.Send(c.Request.Context(), id, in)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, out)
}

func (s *Server) clearMessages(c *gin.Context) {
	if err := s.svc.ClearConversation(c.Request.Context(), c.Param("id")); err != nil {
		errorResponse(c, err)
		return
	}
	success(c, nil)
}

func (s *Server) regenerate(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.repo.Contact(c.Request.Context(), id); err != nil {
		errorResponse(c, err)
		return
	}
	out, err := s.svc.Regenerate(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, out)
}

func (s *Server) openRedPacket(c *gin.Context) {
	msg, err := s.svc.OpenRedPacket(c.Request.Context(), c.Param("id"), c.Param("msgId"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, msg)
}

// Active conversation

func (s *Server) getActive(c *gin.Context) {
	success(c, activeRequest{ConversationID: s.svc.Active()})
}

func (s *Server) setActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	s.svc.SetActive(strings.TrimSpace(req.ConversationID))
	success(c, activeRequest{ConversationID: s.svc.Active()})
}
