// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/statement"
)

// CredentialChecker checks a principal's secret
type CredentialChecker interface {
	Check(ctx context.Context, q csql.Querier, principal, secret string) (bool, error)
}

// CredentialFunc is an adapter to use an ordinary function as CredentialChecker
type CredentialFunc func(ctx context.Context, q csql.Querier, principal, secret string) (bool, error)

// Check calls f
func (f CredentialFunc) Check(ctx context.Context, q csql.Querier, principal, secret string) (bool, error) {
	return f(ctx, q, principal, secret)
}

// StoreCredentials checks secrets stored in a table of the database
type StoreCredentials struct {
	// Table is the schema qualified table, see csql.DB.Table()
	Table           string
	PrincipalColumn string
	SecretColumn    string
	// Hashed means the secret column holds bcrypt hashes rather than plain secrets
	Hashed bool
}

// Check implements CredentialChecker
func (s *StoreCredentials) Check(ctx context.Context, q csql.Querier, principal, secret string) (bool, error) {
	if principal == "" {
		return false, nil
	}
	principalColumn := pq.QuoteIdentifier(s.PrincipalColumn)
	secretColumn := pq.QuoteIdentifier(s.SecretColumn)

	if !s.Hashed {
		st := statement.New("check-credentials").
			SQL("select count(*) from " + s.Table + " where " + principalColumn + " = ").Param(principal).
			SQL(" and " + secretColumn + " = ").Param(secret)
		res, err := q.Execute(ctx, st)
		if err != nil {
			return false, err
		}
		count, err := res.Count()
		if err != nil {
			return false, err
		}
		return count == 1, nil
	}

	st := statement.New("select-credentials").
		SQL("select " + secretColumn + " from " + s.Table + " where " + principalColumn + " = ").Param(principal)
	res, err := q.Execute(ctx, st)
	if err != nil {
		return false, err
	}
	if len(res.Rows) != 1 {
		return false, nil
	}
	hash, ok := res.Scalar().(string)
	if !ok {
		return false, nil
	}
	// a malformed hash never matches
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil, nil
}

// HashSecret returns the bcrypt hash of a secret, as stored for StoreCredentials with Hashed set
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
