package model

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)

// swagger:model User
type User struct {
	BaseModel
	Name      string   `gorm:"size:100;not null" json:"name"`
	Email     string   `gorm:"size:100;unique;not null" json:"email"`
	Password  string   `gorm:"size:100;not null" json:"-"`
	Role      UserRole `gorm:"size:20;default:'student'" json:"role"`
	YearGroup int      `gorm:"default:5" json:"yearGroup"` // 11+ 备考年级（通常 Year 5/6）
	Disabled  bool     `gorm:"default:false" json:"disabled"`
}

func (User) TableName() string {
	return "users"
}
