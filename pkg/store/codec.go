package store

import (
	"database/sql"
	"encoding/json"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"
)

func marshalForwarded(f *signet.Forwarded) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalForwarded(raw sql.NullString) (*signet.Forwarded, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var f signet.Forwarded
	if err := json.Unmarshal([]byte(raw.String), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func marshalStrings(ss []string) (sql.NullString, error) {
	if len(ss) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalStrings(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw.String), &ss); err != nil {
		return nil, err
	}
	return ss, nil
}
