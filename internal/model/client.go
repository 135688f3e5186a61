package model

import "time"

// DefaultClientStatus は新規顧客のステータス初期値（新規リード）。
const DefaultClientStatus = "Lead"

// Client はCRMで管理する顧客（連絡先）を表す。
// emailで一意に識別される。Userとの関連は持たない。
type Client struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Company   string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
