package account

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
)

// NewAccount carries the caller-supplied fields of an account to create.
type NewAccount struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
}

// NormalizeEmail trims the address and lowercases its domain part. The local
// part is kept as given; stores compare emails case-insensitively.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

// NormalizeUsername applies NFKC so visually identical names compare equal.
func NormalizeUsername(username string) string {
	return norm.NFKC.String(strings.TrimSpace(username))
}

// normalize returns a copy of in with identifying fields normalized.
// The password is left untouched.
func normalize(in NewAccount) NewAccount {
	return NewAccount{
		Email:     NormalizeEmail(in.Email),
		Username:  NormalizeUsername(in.Username),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Password:  in.Password,
	}
}

// validate expects normalized input. Required fields are checked in a fixed
// order and the first missing one is reported.
func validate(in NewAccount) error {
	required := []struct {
		field, value string
	}{
		{entity.FieldEmail, in.Email},
		{entity.FieldUsername, in.Username},
		{entity.FieldFirstName, in.FirstName},
		{entity.FieldLastName, in.LastName},
		{entity.FieldPassword, in.Password},
	}
	for _, r := range required {
		if r.value == "" {
			return &entity.ValidationError{Field: r.field}
		}
	}

	limits := []struct {
		field, value string
		max          int
	}{
		{entity.FieldEmail, in.Email, entity.MaxEmailLength},
		{entity.FieldUsername, in.Username, entity.MaxUsernameLength},
		{entity.FieldFirstName, in.FirstName, entity.MaxNameLength},
		{entity.FieldLastName, in.LastName, entity.MaxNameLength},
	}
	for _, l := range limits {
		if utf8.RuneCountInString(l.value) > l.max {
			return &entity.ValidationError{Field: l.field, Reason: fmt.Sprintf("must be at most %d characters", l.max)}
		}
	}

	at := strings.IndexByte(in.Email, '@')
	if at <= 0 || at == len(in.Email)-1 || strings.Count(in.Email, "@") != 1 ||
		strings.ContainsAny(in.Email, " \t\r\n") {
		return &entity.ValidationError{Field: entity.FieldEmail, Reason: "is not a valid email address"}
	}
	// login identifiers containing '@' are looked up as emails
	if strings.Contains(in.Username, "@") {
		return &entity.ValidationError{Field: entity.FieldUsername, Reason: "must not contain @"}
	}
	return nil
}
