package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
)

// SuperAdminInitializer is satisfied by *services.UserService.
type SuperAdminInitializer interface {
	InitSuperAdmin(ctx context.Context, username, password string) (*models.User, error)
}

// BootstrapSuperAdmin makes sure the superadmin exists. username is asked
// for when empty; the password is always read from the terminal.
func BootstrapSuperAdmin(ctx context.Context, s SuperAdminInitializer, username string, in *bufio.Reader, w io.Writer) (*models.User, error) {
	if username == "" {
		var err error
		if username, err = GetSimpleText(in, "Superadmin username", w); err != nil {
			return nil, err
		}
	}

	password, err := GetNewPassword(w)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(password)

	user, err := s.InitSuperAdmin(ctx, username, string(password))
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(w, "Superadmin is ready, id=%d\n", user.ID)
	return user, nil
}
