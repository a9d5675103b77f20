package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dogshouse/dogshouse/internal/core"
)

// ErrDuplicateName is returned when a dog with the same name already exists.
var ErrDuplicateName = core.ErrDuplicateDogName

// sortColumns whitelists ORDER BY targets.
var sortColumns = map[core.SortAttribute]string{
	core.SortName:       "name",
	core.SortColor:      "color",
	core.SortTailLength: "tail_length",
	core.SortWeight:     "weight",
}

// ListDogs returns one page of dogs. Rows with equal sort values keep
// insertion order.
func (s *Store) ListDogs(ctx context.Context, q core.DogsQuery) ([]core.Dog, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	orderBy := "id ASC"
	if column, ok := sortColumns[q.Attribute]; ok {
		direction := "ASC"
		if q.Order == core.OrderDesc {
			direction = "DESC"
		}
		orderBy = column + " " + direction + ", id ASC"
	}

	// #nosec G201 -- orderBy is built from the whitelist above
	query := fmt.Sprintf(`
		SELECT id, name, color, tail_length, weight
		FROM dogs
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, orderBy)

	rows, err := s.DB.QueryContext(ctx, query, q.PageSize, q.Offset())
	if err != nil {
		return nil, fmt.Errorf("list dogs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	dogs := make([]core.Dog, 0)
	for rows.Next() {
		var dog core.Dog
		if err := rows.Scan(&dog.ID, &dog.Name, &dog.Color, &dog.TailLength, &dog.Weight); err != nil {
			return nil, fmt.Errorf("scan dog: %w", err)
		}
		dogs = append(dogs, dog)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dogs: %w", err)
	}

	return dogs, nil
}

// DogNameExists reports whether name is taken, ignoring case.
func (s *Store) DogNameExists(ctx context.Context, name string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errNotInitialized
	}

	var exists int
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM dogs WHERE name = ?)`,
		strings.TrimSpace(name),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dog name: %w", err)
	}
	return exists == 1, nil
}

// CreateDog inserts dog and returns it with its assigned ID. A concurrent
// insert of the same name yields ErrDuplicateName.
func (s *Store) CreateDog(ctx context.Context, dog core.Dog) (core.Dog, error) {
	if s == nil || s.DB == nil {
		return core.Dog{}, errNotInitialized
	}

	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO dogs (name, color, tail_length, weight)
		VALUES (?, ?, ?, ?)
	`, dog.Name, dog.Color, dog.TailLength, dog.Weight)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Dog{}, ErrDuplicateName
		}
		return core.Dog{}, fmt.Errorf("create dog: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Dog{}, fmt.Errorf("read dog id: %w", err)
	}
	dog.ID = id
	return dog, nil
}

// CountDogs returns the number of stored dogs.
func (s *Store) CountDogs(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM dogs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count dogs: %w", err)
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}
