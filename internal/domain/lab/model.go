package lab

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lab statuses.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusSuspended = "suspended"
)

var validLabStatuses = map[string]bool{
	StatusPending:   true,
	StatusApproved:  true,
	StatusSuspended: true,
}

type Lab struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Slug          string    `db:"slug" json:"slug"`
	Description   *string   `db:"description" json:"description,omitempty"`
	Address       string    `db:"address" json:"address"`
	City          string    `db:"city" json:"city"`
	Phone         string    `db:"phone" json:"phone,omitempty"`
	Email         string    `db:"email" json:"email,omitempty"`
	LicenseNumber string    `db:"license_number" json:"license_number,omitempty"`
	Status        string    `db:"status" json:"status"`
	LogoKey       *string   `db:"logo_key" json:"logo_key,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

func (l *Lab) IsApproved() bool { return l.Status == StatusApproved }

// LabUpdate is a partial update; nil fields are left unchanged.
type LabUpdate struct {
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	Address       *string `json:"address"`
	City          *string `json:"city"`
	Phone         *string `json:"phone"`
	Email         *string `json:"email"`
	LicenseNumber *string `json:"license_number"`
}

type LabFilter struct {
	Status string
	City   string
	Search string
}

// LabService is one orderable test or package in a lab's catalog.
type LabService struct {
	ID              uuid.UUID           `db:"id" json:"id"`
	LabID           uuid.UUID           `db:"lab_id" json:"lab_id"`
	Name            string              `db:"name" json:"name"`
	Code            string              `db:"code" json:"code"`
	Category        string              `db:"category" json:"category,omitempty"`
	Description     *string             `db:"description" json:"description,omitempty"`
	Price           decimal.Decimal     `db:"price" json:"price"`
	DiscountPrice   decimal.NullDecimal `db:"discount_price" json:"discount_price"`
	TurnaroundHours int                 `db:"turnaround_hours" json:"turnaround_hours"`
	HomeCollection  bool                `db:"home_collection" json:"home_collection"`
	Active          bool                `db:"active" json:"active"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// EffectivePrice is the discount price when one is set and lower than the
// list price, otherwise the list price.
func (s *LabService) EffectivePrice() decimal.Decimal {
	if s.DiscountPrice.Valid && s.DiscountPrice.Decimal.IsPositive() && s.DiscountPrice.Decimal.LessThan(s.Price) {
		return s.DiscountPrice.Decimal
	}
	return s.Price
}

type ServiceUpdate struct {
	Name            *string              `json:"name"`
	Category        *string              `json:"category"`
	Description     *string              `json:"description"`
	Price           *decimal.Decimal     `json:"price"`
	DiscountPrice   *decimal.NullDecimal `json:"discount_price"`
	TurnaroundHours *int                 `json:"turnaround_hours"`
	HomeCollection  *bool                `json:"home_collection"`
	Active          *bool                `json:"active"`
}

type ServiceFilter struct {
	LabID      *uuid.UUID
	Category   string
	Search     string
	ActiveOnly bool
}
