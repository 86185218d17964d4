package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound collapses sql.ErrNoRows into a (nil, nil) result. Find and
// Finalize style queries treat a missing row as an answer rather than a
// failure; callers branch on the nil result instead of inspecting errors.
//
//	var account model.Account
//	err := r.db.GetContext(ctx, &account, query, id)
//	return HandleNotFound(&account, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
