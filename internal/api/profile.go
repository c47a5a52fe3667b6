package api

import (
	"context"
	"fmt"
	"net/url"
)

// UserInfo is the profile record of the logged in user.
type UserInfo struct {
	UserID         FlexString `json:"f_UserId"`
	RealName       string     `json:"f_RealName"`
	Account        string     `json:"f_Account"`
	HeadIcon       string     `json:"f_HeadIcon,omitempty"`
	CompanyID      FlexString `json:"f_CompanyId,omitempty"`
	CompanyName    string     `json:"f_CompanyName,omitempty"`
	DepartmentID   FlexString `json:"f_DepartmentId,omitempty"`
	DepartmentName string     `json:"f_DepartmentName,omitempty"`
	Phone          FlexString `json:"f_Phone,omitempty"`
	Email          string     `json:"f_Email,omitempty"`
	CreateDate     string     `json:"f_CreateDate,omitempty"`
}

// OrgUnit is a company or department record. Only the name is used.
type OrgUnit struct {
	FullName  string `json:"f_FullName"`
	ShortName string `json:"f_ShortName,omitempty"`
}

// UserInfo fetches the profile of the session owner.
func (c *Client) UserInfo(ctx context.Context) (*UserInfo, error) {
	var info UserInfo
	if err := c.Get(ctx, "/login/app", nil, &info); err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}
	return &info, nil
}

func (c *Client) Company(ctx context.Context, id string) (*OrgUnit, error) {
	return c.orgUnit(ctx, "company", id)
}

func (c *Client) Department(ctx context.Context, id string) (*OrgUnit, error) {
	return c.orgUnit(ctx, "department", id)
}

func (c *Client) orgUnit(ctx context.Context, kind, id string) (*OrgUnit, error) {
	var unit OrgUnit
	if err := c.Get(ctx, "/organization/"+kind+"/"+url.PathEscape(id), nil, &unit); err != nil {
		return nil, fmt.Errorf("fetching %s %s: %w", kind, id, err)
	}
	return &unit, nil
}

// ClearCache asks the backend to drop what it caches for the session.
func (c *Client) ClearCache(ctx context.Context) error {
	if err := c.Post(ctx, "/login/cache", nil, nil); err != nil {
		return fmt.Errorf("clearing server cache: %w", err)
	}
	return nil
}
