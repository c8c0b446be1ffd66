package model

// StudentLoginRequest is the payload for student authentication.
type StudentLoginRequest struct {
	NISN     string `json:"nisn" binding:"required,max=20"`
	Password string `json:"password" binding:"required"`
}

// StudentLoginResponse carries the issued JWT.
type StudentLoginResponse struct {
	Token string `json:"token"`
}
