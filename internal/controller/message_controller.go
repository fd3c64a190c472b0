package controller

import (
	"strconv"

	"im_backend/internal/service"
	"im_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// MessageController 处理消息发送、历史查询与 WebSocket 接入
type MessageController struct {
	DeliveryService *service.DeliveryService
	Hub             *service.PresenceHub
}

func NewMessageController(deliveryService *service.DeliveryService, hub *service.PresenceHub) *MessageController {
	return &MessageController{
		DeliveryService: deliveryService,
		Hub:             hub,
	}
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	ReceiverID  uint   `json:"receiverId" binding:"required" example:"2"`
	Content     string `json:"content" binding:"required"`
	Nonce       string `json:"nonce"`
	ClientMsgID string `json:"clientMsgId"`
}

// SendMessage godoc
// @Summary 发送消息
// @Description 校验双方关系后落库，再尽力推送给双方在线设备
// @Tags 消息
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   request body SendMessageRequest true "消息内容"
// @Success 201 {object} util.Response{data=model.Message} "成功"
// @Failure 400 {object} util.Response "参数错误"
// @Failure 403 {object} util.Response "对方不是你的联系人"
// @Failure 404 {object} util.Response "用户不存在"
// @Router /im/messages [post]
func (ctrl *MessageController) SendMessage(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	msg, err := ctrl.DeliveryService.Send(claims.UserID, req.ReceiverID, req.Content, req.Nonce, req.ClientMsgID)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	util.Created(c, msg)
}

// GetConversation godoc
// @Summary 会话历史
// @Description 当前用户与指定对端之间的双向消息，按时间升序
// @Tags 消息
// @Produce  json
// @Security ApiKeyAuth
// @Param   peerId path int true "对端用户 ID"
// @Param   page query int false "页码" default(1)
// @Param   limit query int false "每页数量" default(50)
// @Success 200 {object} util.Response{data=util.PageResponse} "成功"
// @Router /im/messages/{peerId} [get]
func (ctrl *MessageController) GetConversation(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	peerID, err := strconv.ParseUint(c.Param("peerId"), 10, 64)
	if err != nil {
		util.BadRequest(c, "invalid peer id")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := (page - 1) * limit

	msgs, total, err := ctrl.DeliveryService.GetConversation(claims.UserID, uint(peerID), limit, offset)
	if err != nil {
		util.RespondError(c, err)
		return
	}

	util.Success(c, util.PageResponse{
		List:  msgs,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// HandleWS godoc
// @Summary WebSocket 接入
// @Description 升级连接并注册到在线路由；同一用户可同时保持多条连接
// @Tags 消息
// @Security ApiKeyAuth
// @Router /im/ws [get]
func (ctrl *MessageController) HandleWS(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	service.ServeWs(ctrl.Hub, c.Writer, c.Request, claims.UserID)
}
