package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var (
	errRole      = errors.New("role must be staff, manager or owner")
	errPassword  = errors.New("비밀번호는 4자리 숫자여야 합니다")
	errDuplicate = errors.New("이미 존재하는 이름입니다")
)

type newEmployee struct {
	Name     string
	Role     string
	Password string
}

func (e newEmployee) validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("name is required")
	}
	switch e.Role {
	case "staff", "manager", "owner":
	default:
		return errRole
	}
	if len(e.Password) != 4 {
		return errPassword
	}
	for _, r := range e.Password {
		if r < '0' || r > '9' {
			return errPassword
		}
	}
	return nil
}

func createEmployee(ctx context.Context, pool *db.Pool, e newEmployee) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(e.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	var id string
	err = pool.QueryRow(ctx, `
		INSERT INTO employees (name, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id::text
	`, strings.TrimSpace(e.Name), string(hash), e.Role).Scan(&id)
	if db.IsUniqueViolation(err) {
		return "", errDuplicate
	}
	return id, err
}

func newEmployeeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "employee",
		Short: "Manage employee accounts",
	}
	var e newEmployee
	create := &cobra.Command{
		Use:   "create",
		Short: "Seed an employee who can sign in to the purchase and HR screens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.validate(); err != nil {
				return err
			}
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			id, err := createEmployee(cmd.Context(), pool, e)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "created %s (%s) id=%s\n", e.Name, e.Role, id)
			return nil
		},
	}
	create.Flags().StringVar(&e.Name, "name", "", "employee name, unique")
	create.Flags().StringVar(&e.Role, "role", "staff", "staff, manager or owner")
	create.Flags().StringVar(&e.Password, "password", "", "4 digit password")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("password")
	cmd.AddCommand(create)
	return cmd
}
