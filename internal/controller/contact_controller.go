package controller

import (
	"strconv"

	"im_backend/internal/model"
	"im_backend/internal/service"
	"im_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// ContactController 处理联系人关系相关的HTTP请求
type ContactController struct {
	ContactService *service.ContactService
	Hub            *service.PresenceHub
}

func NewContactController(contactService *service.ContactService, hub *service.PresenceHub) *ContactController {
	return &ContactController{
		ContactService: contactService,
		Hub:            hub,
	}
}

// AddContactRequestRequest 发起联系人申请请求
type AddContactRequestRequest struct {
	PeerID uint `json:"peerId" binding:"required" example:"2"`
}

// SetBlockedRequest 设置拉黑状态请求；blocked 必须是布尔值
type SetBlockedRequest struct {
	Blocked *bool `json:"blocked" binding:"required" example:"true"`
}

// AddContactRequest godoc
// @Summary 发起联系人申请
// @Description 向指定用户发起联系人申请，双方各生成一行记录
// @Tags 联系人
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   request body AddContactRequestRequest true "申请请求"
// @Success 201 {object} util.Response{data=model.Contact} "成功"
// @Failure 400 {object} util.Response "参数错误"
// @Failure 404 {object} util.Response "用户不存在"
// @Failure 409 {object} util.Response "关系已存在"
// @Router /im/contacts/requests [post]
func (ctrl *ContactController) AddContactRequest(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	var req AddContactRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	own, mirror, err := ctrl.ContactService.AddContactRequest(claims.UserID, req.PeerID)
	if err != nil {
		util.RespondError(c, err)
		return
	}

	util.Created(c, gin.H{
		"own":  own,
		"peer": mirror,
	})
}

// ListContacts godoc
// @Summary 联系人列表
// @Description 当前用户持有的全部关系行（含对端信息与在线状态）
// @Tags 联系人
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.Contact} "成功"
// @Router /im/contacts [get]
func (ctrl *ContactController) ListContacts(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	rows, err := ctrl.ContactService.ListContacts(claims.UserID)
	if err != nil {
		util.RespondError(c, err)
		return
	}

	// 补充在线状态
	type contactWithStatus struct {
		model.Contact
		IsOnline bool `json:"isOnline"`
	}
	result := make([]contactWithStatus, 0, len(rows))
	for _, row := range rows {
		online := false
		if ctrl.Hub != nil && row.Status == model.ContactAccepted {
			online = ctrl.Hub.IsUserOnline(row.PeerID)
		}
		result = append(result, contactWithStatus{Contact: row, IsOnline: online})
	}

	util.Success(c, result)
}

// ListIncomingRequests godoc
// @Summary 收到的联系人申请
// @Tags 联系人
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.Contact} "成功"
// @Router /im/contacts/requests/incoming [get]
func (ctrl *ContactController) ListIncomingRequests(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	rows, err := ctrl.ContactService.ListIncomingRequests(claims.UserID)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	util.Success(c, rows)
}

// ListOutgoingRequests godoc
// @Summary 发出的联系人申请
// @Tags 联系人
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.Contact} "成功"
// @Router /im/contacts/requests/outgoing [get]
func (ctrl *ContactController) ListOutgoingRequests(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	rows, err := ctrl.ContactService.ListOutgoingRequests(claims.UserID)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	util.Success(c, rows)
}

// AcceptRequest godoc
// @Summary 接受联系人申请
// @Description 双方的关系行在同一事务内翻到 accepted
// @Tags 联系人
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "申请方行记录 ID"
// @Success 200 {object} util.Response{data=model.Contact} "成功"
// @Failure 404 {object} util.Response "申请不存在"
// @Failure 422 {object} util.Response "申请不在待处理状态"
// @Router /im/contacts/requests/{id}/accept [put]
func (ctrl *ContactController) AcceptRequest(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	contactID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		util.BadRequest(c, "invalid contact id")
		return
	}

	row, err := ctrl.ContactService.AcceptRequest(claims.UserID, uint(contactID))
	if err != nil {
		util.RespondError(c, err)
		return
	}
	util.Success(c, row)
}

// RejectRequest godoc
// @Summary 拒绝联系人申请
// @Description 只改写当前用户自己的行；申请方的行不受影响
// @Tags 联系人
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "申请方行记录 ID"
// @Success 200 {object} util.Response{data=model.Contact} "成功"
// @Failure 404 {object} util.Response "申请不存在"
// @Failure 422 {object} util.Response "申请不在待处理状态"
// @Router /im/contacts/requests/{id}/reject [put]
func (ctrl *ContactController) RejectRequest(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	contactID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		util.BadRequest(c, "invalid contact id")
		return
	}

	row, err := ctrl.ContactService.RejectRequest(claims.UserID, uint(contactID))
	if err != nil {
		util.RespondError(c, err)
		return
	}
	util.Success(c, row)
}

// SetBlocked godoc
// @Summary 拉黑/解除拉黑
// @Description 单方面操作；解除时恢复拉黑前的状态
// @Tags 联系人
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   peerId path int true "对端用户 ID"
// @Param   request body SetBlockedRequest true "目标拉黑状态"
// @Success 200 {object} util.Response{data=model.Contact} "成功"
// @Failure 404 {object} util.Response "关系不存在"
// @Router /im/contacts/{peerId}/block [put]
func (ctrl *ContactController) SetBlocked(c *gin.Context) {
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
	var req SetBlockedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	row, err := ctrl.ContactService.SetBlocked(claims.UserID, uint(peerID), *req.Blocked)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	util.Success(c, row)
}

// DeleteContact godoc
// @Summary 删除联系人
// @Description 只移除当前用户自己的行，对方的行不受影响
// @Tags 联系人
// @Produce  json
// @Security ApiKeyAuth
// @Param   peerId path int true "对端用户 ID"
// @Success 200 {object} util.Response "成功"
// @Failure 404 {object} util.Response "关系不存在"
// @Router /im/contacts/{peerId} [delete]
func (ctrl *ContactController) DeleteContact(c *gin.Context) {
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

	if err := ctrl.ContactService.DeleteContact(claims.UserID, uint(peerID)); err != nil {
		util.RespondError(c, err)
		return
	}
	util.Success(c, nil)
}

// SearchUser godoc
// @Summary 按邮箱精确查找用户
// @Tags 联系人
// @Produce  json
// @Security ApiKeyAuth
// @Param   email query string true "邮箱"
// @Success 200 {object} util.Response{data=model.User} "成功"
// @Failure 404 {object} util.Response "用户不存在"
// @Router /im/users/search [get]
func (ctrl *ContactController) SearchUser(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	email := c.Query("email")
	if email == "" {
		util.BadRequest(c, "email is required")
		return
	}

	user, err := ctrl.ContactService.SearchUserByEmail(email)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	util.Success(c, user)
}

// SearchUsers godoc
// @Summary 按昵称或邮箱模糊搜索用户
// @Tags 联系人
// @Produce  json
// @Security ApiKeyAuth
// @Param   query query string true "搜索关键字"
// @Success 200 {object} util.Response{data=[]model.User} "成功"
// @Router /im/users/search-fuzzy [get]
func (ctrl *ContactController) SearchUsers(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	query := c.Query("query")
	if query == "" {
		util.Success(c, []model.User{})
		return
	}

	users, err := ctrl.ContactService.FuzzySearchUsers(query)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	util.Success(c, users)
}
