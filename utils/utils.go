package utils

import (
	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 12

func HashPasscode(passcode string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(passcode), BcryptCost)
	return string(bytes), err
}

func CheckPasscode(hash, passcode string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode))
	return err == nil
}
