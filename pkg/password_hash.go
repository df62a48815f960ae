package pkg

import "golang.org/x/crypto/bcrypt"

const passwordHashCost = 12

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	return BytesToString(bytes), err
}

// CheckPasswordHash compares in constant time; bcrypt salts are part of the hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
