package model

// UserRole 用户角色，由认证服务在JWT中签发，本服务只做解析
type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)
