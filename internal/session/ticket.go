package session

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"

	pickle "github.com/kisielk/og-rek"
)

const (
	ticketKey = "repoze.who.tkt"
	userIDKey = "user.id"
)

// UserFromSession unpickles a Beaker session blob and returns
// sessionData["repoze.who.tkt"][0]["user.id"][0].
func UserFromSession(blob []byte) (string, error) {
	data, err := pickle.NewDecoder(bytes.NewReader(blob)).Decode()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	root, ok := lookup(data, ticketKey)
	if !ok {
		return "", ErrNoTicket
	}
	ticket, ok := sequence(root)
	if !ok || len(ticket) != 2 {
		return "", fmt.Errorf("%w: ticket is not a pair", ErrMalformedSession)
	}
	ids, ok := lookup(ticket[0], userIDKey)
	if !ok {
		return "", ErrNoUserID
	}
	items, ok := sequence(ids)
	if !ok || len(items) != 1 {
		return "", fmt.Errorf("%w: user.id must hold exactly one value", ErrMalformedSession)
	}
	user, ok := scalar(items[0])
	if !ok || user == "" {
		return "", fmt.Errorf("%w: unsupported user.id value %T", ErrMalformedSession, items[0])
	}
	return user, nil
}

func lookup(v interface{}, key string) (interface{}, bool) {
	switch m := v.(type) {
	case map[interface{}]interface{}:
		out, ok := m[key]
		return out, ok
	case map[string]interface{}:
		out, ok := m[key]
		return out, ok
	}
	return nil, false
}

func sequence(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case pickle.Tuple:
		return []interface{}(s), true
	case []interface{}:
		return s, true
	}
	return nil, false
}

func scalar(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	case *big.Int:
		return x.String(), true
	}
	return "", false
}
