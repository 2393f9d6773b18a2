// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"

	"github.com/lib/pq"

	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/statement"
)

// Account is a principal with its secret
type Account struct {
	Principal string
	Secret    string
}

// EnsureAccounts creates the specified accounts in the credential table if they do not exist yet.
// Secrets are hashed if the credentials are hashed. Existing accounts keep their secret.
func EnsureAccounts(ctx context.Context, db *csql.DB, credentials *StoreCredentials, accounts ...Account) error {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release(false)

	for _, account := range accounts {
		secret := account.Secret
		if credentials.Hashed {
			if secret, err = HashSecret(secret); err != nil {
				return err
			}
		}
		st := statement.New("ensure-account").
			SQL("INSERT INTO " + credentials.Table + " (" + pq.QuoteIdentifier(credentials.PrincipalColumn) + "," +
				pq.QuoteIdentifier(credentials.SecretColumn) + ") VALUES (").
			Array([]interface{}{account.Principal, secret}).
			SQL(") ON CONFLICT DO NOTHING")
		if _, err = conn.Execute(ctx, st); err != nil {
			conn.Release(true)
			return err
		}
	}
	return nil
}
