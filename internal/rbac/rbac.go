package rbac

type Role string
type Action string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionEdit   Action = "edit"
	ActionSubmit Action = "submit"
	ActionReview Action = "review"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleInstructor:
		return action == ActionRead || action == ActionEdit || action == ActionSubmit || action == ActionReview
	case RoleStudent:
		return action == ActionRead || action == ActionEdit || action == ActionSubmit
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return Role(role)
	default:
		return RoleStudent
	}
}
