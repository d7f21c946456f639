package cache

import (
	"context"
	"fmt"
	"time"
)

const productInfoTTL = 5 * time.Minute

// ProductSnapshot 下单热路径使用的商品快照
type ProductSnapshot struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Price  string `json:"price"`
	Status int    `json:"status"`
}

func productInfoKey(productID uint) string {
	return fmt.Sprintf("product:info:%d", productID)
}

// GetProductSnapshot 读取商品快照缓存
func GetProductSnapshot(ctx context.Context, productID uint) (*ProductSnapshot, bool, error) {
	var snapshot ProductSnapshot
	hit, err := GetJSON(ctx, productInfoKey(productID), &snapshot)
	if err != nil || !hit {
		return nil, false, err
	}
	return &snapshot, true, nil
}

// SetProductSnapshot 写入商品快照缓存
func SetProductSnapshot(ctx context.Context, snapshot *ProductSnapshot) error {
	if snapshot == nil || snapshot.ID == 0 {
		return nil
	}
	return SetJSON(ctx, productInfoKey(snapshot.ID), snapshot, productInfoTTL)
}

// DelProductSnapshot 删除商品快照缓存
func DelProductSnapshot(ctx context.Context, productID uint) error {
	return Del(ctx, productInfoKey(productID))
}
