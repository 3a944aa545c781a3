package models

// User rows are owned by the identity service; this core only reads the
// capability columns to decide room access.
type User struct {
	ID                   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Firstname            string `gorm:"not null"                 json:"firstname"`
	Lastname             string `gorm:"not null"                 json:"lastname"`
	Email                string `gorm:"unique;not null"          json:"email"`
	IsAdmin              bool   `gorm:"not null;default:false"   json:"is_admin"`
	RestaurantOwnerID    *uint  `gorm:"index"                    json:"restaurant_owner_id"`
	RestaurantEmployeeID *uint  `gorm:"index"                    json:"restaurant_employee_id"`
	BeachOwnerID         *uint  `gorm:"index"                    json:"beach_owner_id"`
	BeachEmployeeID      *uint  `gorm:"index"                    json:"beach_employee_id"`
}

type Beach struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"not null"                 json:"name"`
}

type Restaurant struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"not null"                 json:"name"`
}

type Product struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string `gorm:"not null"                 json:"name"`
	ImageURL     string `json:"image_url"`
	RestaurantID uint   `gorm:"index;not null"           json:"restaurant_id"`
}

// BeachProduct is a beach's published listing for one product. Price is a
// static attribute here, never computed.
type BeachProduct struct {
	ID        uint    `gorm:"primaryKey"                     json:"id"`
	BeachID   uint    `gorm:"index:idx_beach_product,unique" json:"beach_id"`
	ProductID uint    `gorm:"index:idx_beach_product,unique" json:"product_id"`
	Price     float64 `gorm:"not null"                       json:"price"`
}

// Order stays active while at least one of its lines is unsent. The flag is
// recomputed by the fulfillment engine on every write and re-derived by the
// store as a safety net.
type Order struct {
	ID      uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	BeachID uint   `gorm:"index;not null"           json:"beach_id"`
	UserID  uint   `gorm:"index;not null"           json:"user_id"`
	Note    string `json:"note"`
	Active  bool   `gorm:"not null"                 json:"active"`

	Lines []OrderLine `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"lines,omitempty"`
}

// OrderLine tracks one product quantity of an order. Sent implies Ready;
// a sent line is terminal.
type OrderLine struct {
	ID        uint `gorm:"primaryKey;autoIncrement"            json:"id"`
	OrderID   uint `gorm:"index:idx_order_product,unique"      json:"order_id"`
	ProductID uint `gorm:"index:idx_order_product,unique"      json:"product_id"`
	Quantity  uint `gorm:"not null;default:1;check:quantity>0" json:"quantity"`
	Ready     bool `gorm:"not null;default:false"              json:"ready"`
	Sent      bool `gorm:"not null;default:false"              json:"sent"`
}
