package repository

import (
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
)

type CompanyEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	Name      string    `db:"name"       gorm:"column:name;not null"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (CompanyEntity) TableName() string {
	return "companies"
}

type UserEntity struct {
	ID             int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	CompanyID      *int64    `db:"company_id"      gorm:"column:company_id;index"`
	Email          string    `db:"email"           gorm:"column:email;not null;unique"`
	Balance        int64     `db:"balance"         gorm:"column:balance;not null;default:0;check:balance >= 0"`
	TotalPurchased int64     `db:"total_purchased" gorm:"column:total_purchased;not null;default:0"`
	TotalSpent     int64     `db:"total_spent"     gorm:"column:total_spent;not null;default:0"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `db:"updated_at"      gorm:"column:updated_at;autoUpdateTime"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toUserEntity(m *model.User) *UserEntity {
	if m == nil {
		return nil
	}
	return &UserEntity{
		ID:             m.ID,
		CompanyID:      m.CompanyID,
		Email:          m.Email,
		Balance:        m.Balance,
		TotalPurchased: m.TotalPurchased,
		TotalSpent:     m.TotalSpent,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:             e.ID,
		CompanyID:      e.CompanyID,
		Email:          e.Email,
		Balance:        e.Balance,
		TotalPurchased: e.TotalPurchased,
		TotalSpent:     e.TotalSpent,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func toCompanyModel(e *CompanyEntity) *model.Company {
	if e == nil {
		return nil
	}
	return &model.Company{
		ID:        e.ID,
		Name:      e.Name,
		CreatedAt: e.CreatedAt,
	}
}
