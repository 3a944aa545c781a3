package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/yvesmarin/beach_orders/internal/models"
)

// Actor is the resolved identity behind a request or socket connection,
// carrying just enough to answer capability questions.
type Actor struct {
	UserID    uint
	Firstname string
	Lastname  string
	IsAdmin   bool

	restaurantOwnerID    *uint
	restaurantEmployeeID *uint
	beachOwnerID         *uint
	beachEmployeeID      *uint
}

func (a *Actor) OwnsRestaurant(id uint) bool {
	return a.restaurantOwnerID != nil && *a.restaurantOwnerID == id
}

// CanAccessRestaurant is true for the restaurant's owner and employees.
// Admin override is applied by callers, not here.
func (a *Actor) CanAccessRestaurant(id uint) bool {
	if a.OwnsRestaurant(id) {
		return true
	}
	return a.restaurantEmployeeID != nil && *a.restaurantEmployeeID == id
}

func (a *Actor) OwnsBeach(id uint) bool {
	return a.beachOwnerID != nil && *a.beachOwnerID == id
}

func (a *Actor) CanAccessBeach(id uint) bool {
	if a.OwnsBeach(id) {
		return true
	}
	return a.beachEmployeeID != nil && *a.beachEmployeeID == id
}

// BeachID returns the beach the actor works at, if any.
func (a *Actor) BeachID() (uint, bool) {
	if a.beachOwnerID != nil {
		return *a.beachOwnerID, true
	}
	if a.beachEmployeeID != nil {
		return *a.beachEmployeeID, true
	}
	return 0, false
}

// RestaurantID returns the restaurant the actor works for, if any.
func (a *Actor) RestaurantID() (uint, bool) {
	if a.restaurantOwnerID != nil {
		return *a.restaurantOwnerID, true
	}
	if a.restaurantEmployeeID != nil {
		return *a.restaurantEmployeeID, true
	}
	return 0, false
}

func FromUser(u *models.User) *Actor {
	return &Actor{
		UserID:               u.ID,
		Firstname:            u.Firstname,
		Lastname:             u.Lastname,
		IsAdmin:              u.IsAdmin,
		restaurantOwnerID:    u.RestaurantOwnerID,
		restaurantEmployeeID: u.RestaurantEmployeeID,
		beachOwnerID:         u.BeachOwnerID,
		beachEmployeeID:      u.BeachEmployeeID,
	}
}

// Resolver turns access tokens into Actors. Token issuance belongs to the
// auth service; only HS256 verification happens here.
type Resolver struct {
	DB        *gorm.DB
	JWTSecret []byte
}

func (r *Resolver) Resolve(ctx context.Context, rawToken string) (*Actor, error) {
	t, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signature method: %v", t.Header["alg"])
		}
		return r.JWTSecret, nil
	})
	if err != nil || !t.Valid {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("cannot parse claims")
	}

	sub, ok := claims["sub"].(float64)
	if !ok {
		return nil, fmt.Errorf("token missing sub claim")
	}

	var user models.User
	if err := r.DB.WithContext(ctx).First(&user, uint(sub)).Error; err != nil {
		return nil, fmt.Errorf("unknown user: %w", err)
	}

	return FromUser(&user), nil
}
