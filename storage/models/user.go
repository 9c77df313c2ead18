package models

type User struct {
	Id       string `json:"_id"`
	Username string `json:"username"`
}
