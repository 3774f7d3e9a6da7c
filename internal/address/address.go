package address

import "time"

type Address struct {
	AddressID   int       `json:"addressId"`
	UserID      int       `json:"userId"`
	AddressDesc string    `json:"addressDesc"`
	Phone       string    `json:"phone"`
	AddressName string    `json:"addressName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
