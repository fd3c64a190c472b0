package errors

var (
	// 账号相关
	ErrEmailRegistered    = AlreadyExists("该邮箱已被注册")
	ErrInvalidCredentials = Unauthorized("invalid credentials")
	ErrUserNotFound       = NotFound("用户不存在")

	// 联系人关系相关
	ErrSelfContact       = InvalidArg("不能添加自己为联系人")
	ErrContactExists     = AlreadyExists("联系人关系已存在")
	ErrContactNotFound   = NotFound("联系人关系不存在")
	ErrRequestNotPending = FailedPrecondition("该申请不在待处理状态")

	// 消息相关
	ErrEmptyContent = InvalidArg("消息内容不能为空")
	ErrSelfMessage  = InvalidArg("不能给自己发送消息")
	ErrNotContact   = Forbidden("对方还不是你的联系人，无法发送消息")
)

func ErrStoreMessageFailed(cause error) error {
	return Wrap(CodeInternal, "消息保存失败", cause)
}
