// Package profile resolves the logged in user's profile from the cached
// session record and the backend.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/cspfeed/internal/api"
	"github.com/pders01/cspfeed/internal/auth"
	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/storage"
)

// DefaultTag is shown when the user belongs to no known organization.
const DefaultTag = "Corporate Group"

// Backend is the part of the API client the resolver uses.
type Backend interface {
	UserInfo(ctx context.Context) (*api.UserInfo, error)
	Company(ctx context.Context, id string) (*api.OrgUnit, error)
	Department(ctx context.Context, id string) (*api.OrgUnit, error)
}

// Sessions gives access to the active session. auth.Manager implements it.
type Sessions interface {
	Session() *storage.Session
	UpdateUser(fields map[string]interface{}) error
}

type Profile struct {
	UserID         string `json:"user_id"`
	RealName       string `json:"real_name"`
	Account        string `json:"account"`
	HeadIcon       string `json:"head_icon,omitempty"`
	CompanyID      string `json:"company_id,omitempty"`
	CompanyName    string `json:"company_name,omitempty"`
	DepartmentID   string `json:"department_id,omitempty"`
	DepartmentName string `json:"department_name,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	CreateDate     string `json:"create_date,omitempty"`
}

// Tags lists the organization labels shown under the name.
func (p *Profile) Tags() []string {
	var tags []string
	if p.CompanyName != "" {
		tags = append(tags, p.CompanyName)
	}
	if p.DepartmentName != "" {
		tags = append(tags, p.DepartmentName)
	}
	if len(tags) == 0 {
		tags = append(tags, DefaultTag)
	}
	return tags
}

// DisplayName is the real name, or the account when the backend sent none.
func (p *Profile) DisplayName() string {
	if p.RealName != "" {
		return p.RealName
	}
	return p.Account
}

type Resolver struct {
	backend  Backend
	sessions Sessions
}

func NewResolver(backend Backend, sessions Sessions) *Resolver {
	return &Resolver{backend: backend, sessions: sessions}
}

// Resolve returns the profile. The cached user record is used when it has a
// real name and refresh is false; otherwise /login/app is asked. Missing
// organization names are looked up by id and written back to the session.
// Lookup failures leave the name empty.
func (r *Resolver) Resolve(ctx context.Context, refresh bool) (*Profile, error) {
	session := r.sessions.Session()
	if session == nil {
		return nil, auth.ErrNotLoggedIn
	}

	p := fromUser(session.User)
	if p.Account == "" {
		p.Account = session.Account
	}
	dirty := false
	if refresh || p.RealName == "" {
		info, err := r.backend.UserInfo(ctx)
		if err != nil {
			return nil, err
		}
		p = fromInfo(info)
		dirty = true
	}

	filled, err := r.fillOrganization(ctx, p)
	if err != nil {
		debuglog.Warnf("resolving organization names: %v", err)
	}
	if dirty || filled {
		if err := r.sessions.UpdateUser(p.fields()); err != nil {
			debuglog.Warnf("caching profile: %v", err)
		}
	}
	return p, nil
}

func (r *Resolver) fillOrganization(ctx context.Context, p *Profile) (bool, error) {
	var companyName, departmentName string
	var g errgroup.Group
	if p.CompanyName == "" && p.CompanyID != "" {
		g.Go(func() error {
			unit, err := r.backend.Company(ctx, p.CompanyID)
			if err != nil {
				return err
			}
			companyName = unit.FullName
			return nil
		})
	}
	if p.DepartmentName == "" && p.DepartmentID != "" {
		g.Go(func() error {
			unit, err := r.backend.Department(ctx, p.DepartmentID)
			if err != nil {
				return err
			}
			departmentName = unit.FullName
			return nil
		})
	}
	err := g.Wait()

	filled := false
	if companyName != "" {
		p.CompanyName = companyName
		filled = true
	}
	if departmentName != "" {
		p.DepartmentName = departmentName
		filled = true
	}
	return filled, err
}

func fromInfo(info *api.UserInfo) *Profile {
	return &Profile{
		UserID:         string(info.UserID),
		RealName:       info.RealName,
		Account:        info.Account,
		HeadIcon:       info.HeadIcon,
		CompanyID:      string(info.CompanyID),
		CompanyName:    info.CompanyName,
		DepartmentID:   string(info.DepartmentID),
		DepartmentName: info.DepartmentName,
		Phone:          string(info.Phone),
		Email:          info.Email,
		CreateDate:     info.CreateDate,
	}
}

// fields maps the profile back onto the backend's user record keys.
func (p *Profile) fields() map[string]interface{} {
	all := map[string]interface{}{
		"f_UserId":         p.UserID,
		"f_RealName":       p.RealName,
		"f_Account":        p.Account,
		"f_HeadIcon":       p.HeadIcon,
		"f_CompanyId":      p.CompanyID,
		"f_CompanyName":    p.CompanyName,
		"f_DepartmentId":   p.DepartmentID,
		"f_DepartmentName": p.DepartmentName,
		"f_Phone":          p.Phone,
		"f_Email":          p.Email,
		"f_CreateDate":     p.CreateDate,
	}
	for k, v := range all {
		if v == "" {
			delete(all, k)
		}
	}
	return all
}

func fromUser(user map[string]interface{}) *Profile {
	return &Profile{
		UserID:         stringField(user, "f_UserId"),
		RealName:       stringField(user, "f_RealName"),
		Account:        stringField(user, "f_Account"),
		HeadIcon:       stringField(user, "f_HeadIcon"),
		CompanyID:      stringField(user, "f_CompanyId"),
		CompanyName:    stringField(user, "f_CompanyName"),
		DepartmentID:   stringField(user, "f_DepartmentId"),
		DepartmentName: stringField(user, "f_DepartmentName"),
		Phone:          stringField(user, "f_Phone"),
		Email:          stringField(user, "f_Email"),
		CreateDate:     stringField(user, "f_CreateDate"),
	}
}

// stringField reads a user record value that may have been decoded as a
// string or a number.
func stringField(user map[string]interface{}, key string) string {
	switch v := user[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
