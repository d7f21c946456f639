package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/stockpilot/internal/cache"
	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/models"
	"github.com/stockpilot/internal/queue"
	"github.com/stockpilot/internal/repository"

	"github.com/hibiken/asynq"
)

// OrderService 订单服务（下单 / 支付 / 取消），库存流转委托给 StockService
type OrderService struct {
	orderRepo     repository.OrderRepository
	productRepo   repository.ProductRepository
	stock         *StockService
	queueClient   *queue.Client
	notifier      queue.Notifier
	expireMinutes int
	batchLimit    int
}

// NewOrderService 创建订单服务
func NewOrderService(orderRepo repository.OrderRepository, productRepo repository.ProductRepository, stock *StockService, queueClient *queue.Client, notifier queue.Notifier, expireMinutes int) *OrderService {
	if expireMinutes <= 0 {
		expireMinutes = constants.DefaultPaymentExpireMinutes
	}
	return &OrderService{
		orderRepo:     orderRepo,
		productRepo:   productRepo,
		stock:         stock,
		queueClient:   queueClient,
		notifier:      notifier,
		expireMinutes: expireMinutes,
		batchLimit:    stock.batchLimit,
	}
}

// CreateOrderInput 创建订单输入
type CreateOrderInput struct {
	ProductID uint
	Quantity  int64
	OrderNo   string // 客户端幂等号，为空时自动生成
}

// CreateOrder 下单：预占库存后创建待支付订单，同一订单号重复提交返回已有订单
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	orderNo := strings.TrimSpace(input.OrderNo)
	if orderNo == "" {
		orderNo = generateOrderNo()
	} else if len(orderNo) > 64 {
		return nil, ErrInvalidOrderNo
	}

	existing, err := s.orderRepo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, storeErr(err)
	}
	if existing != nil {
		return existing, nil
	}

	product, err := s.loadProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	price, err := models.NewMoneyFromString(product.Price)
	if err != nil {
		return nil, ErrProductNotAvailable
	}

	if err := s.stock.Reserve(ctx, product.ID, orderNo, input.Quantity); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrProductNotAvailable
		}
		return nil, err
	}

	now := s.stock.now()
	expiresAt := now.Add(time.Duration(s.expireMinutes) * time.Minute)
	order := &models.Order{
		OrderNo:      orderNo,
		ProductID:    product.ID,
		ProductName:  product.Name,
		ProductPrice: price,
		Quantity:     input.Quantity,
		TotalAmount:  price.MulQuantity(input.Quantity),
		Status:       constants.OrderStatusPendingPayment,
		ExpiresAt:    &expiresAt,
	}
	if err := s.orderRepo.Create(order); err != nil {
		if dup, lookupErr := s.orderRepo.GetByOrderNo(orderNo); lookupErr == nil && dup != nil {
			return dup, nil
		}
		if releaseErr := s.stock.Release(ctx, orderNo); releaseErr != nil {
			logger.Errorw("order_create_release_failed", "order_no", orderNo, "error", releaseErr)
		}
		logger.Errorw("order_create_failed", "order_no", orderNo, "product_id", product.ID, "error", err)
		return nil, storeErr(err)
	}

	if s.queueClient != nil {
		delay := time.Until(expiresAt)
		if err := s.queueClient.EnqueueOrderTimeoutCancel(queue.OrderTimeoutCancelPayload{OrderNo: orderNo}, delay); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			logger.Warnw("order_enqueue_timeout_cancel_failed", "order_no", orderNo, "error", err)
		}
	}
	logger.Infow("order_created", "order_no", orderNo, "product_id", product.ID, "quantity", input.Quantity)
	return order, nil
}

// loadProduct 优先读取商品快照缓存
func (s *OrderService) loadProduct(ctx context.Context, productID uint) (*cache.ProductSnapshot, error) {
	if productID == 0 {
		return nil, ErrProductNotAvailable
	}
	snapshot, hit, err := cache.GetProductSnapshot(ctx, productID)
	if err != nil {
		logger.Debugw("order_product_snapshot_read_failed", "product_id", productID, "error", err)
	}
	if !hit || snapshot == nil {
		product, err := s.productRepo.GetByID(productID)
		if err != nil {
			return nil, storeErr(err)
		}
		if product == nil {
			return nil, ErrProductNotAvailable
		}
		snapshot = &cache.ProductSnapshot{
			ID:     product.ID,
			Name:   product.Name,
			Price:  product.Price.String(),
			Status: product.Status,
		}
		if err := cache.SetProductSnapshot(ctx, snapshot); err != nil {
			logger.Debugw("order_product_snapshot_write_failed", "product_id", productID, "error", err)
		}
	}
	if snapshot.Status != constants.ProductStatusOn {
		return nil, ErrProductNotAvailable
	}
	return snapshot, nil
}

// PayOrder 支付确认：先扣减库存，扣减成功后才标记为已支付
func (s *OrderService) PayOrder(ctx context.Context, orderNo string) (*models.Order, error) {
	order, err := s.getOrder(orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status == constants.OrderStatusPaid {
		return order, nil
	}
	if order.Status != constants.OrderStatusPendingPayment {
		return nil, ErrOrderStatusInvalid
	}
	now := s.stock.now()
	if order.ExpiresAt != nil && !order.ExpiresAt.After(now) {
		return nil, ErrOrderExpired
	}

	if err := s.stock.Finalize(ctx, order.OrderNo); err != nil {
		if !errors.Is(err, ErrInvalidState) {
			logger.Warnw("order_pay_finalize_failed", "order_no", order.OrderNo, "error", err)
			return nil, err
		}
		// 前一次支付已完成扣减但订单未落状态时允许继续
		lock, lookupErr := s.stock.GetLock(order.OrderNo)
		if lookupErr != nil || lock.Status != constants.StockLockStatusDeducted {
			return nil, ErrOrderStatusInvalid
		}
	}
	paid, err := s.markPaid(order, now)
	if errors.Is(err, ErrOrderStatusInvalid) {
		return s.repairCanceledDeducted(order.OrderNo, now)
	}
	return paid, err
}

// repairCanceledDeducted 库存已扣减但订单被并发取消时，以扣减结果为准改回已支付
func (s *OrderService) repairCanceledDeducted(orderNo string, now time.Time) (*models.Order, error) {
	affected, err := s.orderRepo.TransitionStatus(orderNo, constants.OrderStatusCanceled, constants.OrderStatusPaid, map[string]interface{}{
		"paid_at":     now,
		"canceled_at": nil,
	})
	if err != nil {
		logger.Errorw("order_repair_paid_failed", "order_no", orderNo, "error", err)
		return nil, storeErr(err)
	}
	if affected == 0 {
		return nil, ErrOrderStatusInvalid
	}
	logger.Warnw("order_canceled_with_deducted_stock_repaired", "order_no", orderNo)
	return s.getOrder(orderNo)
}

func (s *OrderService) markPaid(order *models.Order, now time.Time) (*models.Order, error) {
	affected, err := s.orderRepo.TransitionStatus(order.OrderNo, constants.OrderStatusPendingPayment, constants.OrderStatusPaid, map[string]interface{}{
		"paid_at": now,
	})
	if err != nil {
		logger.Errorw("order_mark_paid_failed", "order_no", order.OrderNo, "error", err)
		return nil, storeErr(err)
	}
	if affected == 0 {
		latest, err := s.getOrder(order.OrderNo)
		if err != nil {
			return nil, err
		}
		if latest.Status == constants.OrderStatusPaid {
			return latest, nil
		}
		return nil, ErrOrderStatusInvalid
	}
	order.Status = constants.OrderStatusPaid
	order.PaidAt = &now
	logger.Infow("order_paid", "order_no", order.OrderNo, "product_id", order.ProductID, "quantity", order.Quantity)
	return order, nil
}

// ConfirmOfflinePayment 后台确认线下收款：标记已支付后异步投递扣减
func (s *OrderService) ConfirmOfflinePayment(ctx context.Context, orderNo string) (*models.Order, error) {
	order, err := s.getOrder(orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status == constants.OrderStatusPaid {
		return order, nil
	}
	if order.Status != constants.OrderStatusPendingPayment {
		return nil, ErrOrderStatusInvalid
	}
	order, err = s.markPaid(order, s.stock.now())
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.NotifyDeduct(ctx, queue.StockNotifyPayload{
			OrderNo:   order.OrderNo,
			ProductID: order.ProductID,
			Quantity:  order.Quantity,
			Reason:    "offline_payment",
		})
	}
	return order, nil
}

// CancelOrder 用户取消待支付订单
func (s *OrderService) CancelOrder(ctx context.Context, orderNo string) (*models.Order, error) {
	order, err := s.getOrder(orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status == constants.OrderStatusCanceled {
		return order, nil
	}
	if order.Status != constants.OrderStatusPendingPayment {
		return nil, ErrOrderStatusInvalid
	}
	return s.cancelPending(ctx, order, "user_cancel")
}

// CancelExpiredOrder 超时取消（异步任务入口），未过期或非待支付时原样返回
func (s *OrderService) CancelExpiredOrder(ctx context.Context, orderNo string) (*models.Order, error) {
	order, err := s.getOrder(orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != constants.OrderStatusPendingPayment || order.ExpiresAt == nil {
		return order, nil
	}
	if order.ExpiresAt.After(s.stock.now()) {
		return order, nil
	}
	return s.cancelPending(ctx, order, "payment_timeout")
}

// HandleTimeoutOrders 批量取消已过支付期限的订单
func (s *OrderService) HandleTimeoutOrders(ctx context.Context) (int, error) {
	orders, err := s.orderRepo.ListPendingExpired(s.stock.now(), s.batchLimit)
	if err != nil {
		return 0, storeErr(err)
	}
	canceled := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return canceled, ctx.Err()
		}
		result, err := s.CancelExpiredOrder(ctx, order.OrderNo)
		if err != nil {
			logger.Warnw("order_timeout_cancel_failed", "order_no", order.OrderNo, "error", err)
			continue
		}
		if result.Status == constants.OrderStatusCanceled {
			canceled++
		}
	}
	if canceled > 0 {
		logger.Infow("order_timeout_canceled", "scanned", len(orders), "canceled", canceled)
	}
	return canceled, nil
}

// cancelPending 释放库存并取消订单；库存已扣减说明支付已完成，改为补记支付
func (s *OrderService) cancelPending(ctx context.Context, order *models.Order, reason string) (*models.Order, error) {
	now := s.stock.now()
	lock, err := s.stock.GetLock(order.OrderNo)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if lock != nil && lock.Status == constants.StockLockStatusDeducted {
		logger.Warnw("order_cancel_found_deducted_stock", "order_no", order.OrderNo, "reason", reason)
		return s.markPaid(order, now)
	}

	deducted, err := s.stock.releaseForCancel(ctx, order.OrderNo, "订单取消释放库存")
	if deducted {
		logger.Warnw("order_cancel_lost_to_deduct", "order_no", order.OrderNo, "reason", reason)
		return s.markPaid(order, now)
	}
	if err != nil {
		logger.Warnw("order_cancel_release_failed", "order_no", order.OrderNo, "reason", reason, "error", err)
		if s.notifier != nil {
			s.notifier.NotifyRollback(ctx, queue.StockNotifyPayload{
				OrderNo:   order.OrderNo,
				ProductID: order.ProductID,
				Quantity:  order.Quantity,
				Reason:    reason,
			})
		}
	}

	affected, err := s.orderRepo.TransitionStatus(order.OrderNo, constants.OrderStatusPendingPayment, constants.OrderStatusCanceled, map[string]interface{}{
		"canceled_at": now,
	})
	if err != nil {
		logger.Errorw("order_cancel_update_failed", "order_no", order.OrderNo, "error", err)
		return nil, storeErr(err)
	}
	if affected == 0 {
		return s.getOrder(order.OrderNo)
	}
	order.Status = constants.OrderStatusCanceled
	order.CanceledAt = &now
	logger.Infow("order_canceled", "order_no", order.OrderNo, "reason", reason)
	return order, nil
}

// GetOrder 查询订单，已过期的待支付订单读取时懒取消
func (s *OrderService) GetOrder(ctx context.Context, orderNo string) (*models.Order, error) {
	order, err := s.getOrder(orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status == constants.OrderStatusPendingPayment && order.ExpiresAt != nil && !order.ExpiresAt.After(s.stock.now()) {
		if canceled, err := s.cancelPending(ctx, order, "payment_timeout"); err == nil {
			return canceled, nil
		}
	}
	return order, nil
}

// ListOrders 后台订单列表
func (s *OrderService) ListOrders(filter repository.OrderListFilter) ([]models.Order, int64, error) {
	orders, total, err := s.orderRepo.List(filter)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return orders, total, nil
}

func (s *OrderService) getOrder(orderNo string) (*models.Order, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, ErrOrderNotFound
	}
	order, err := s.orderRepo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, storeErr(err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func generateOrderNo() string {
	now := time.Now().Format("20060102150405")
	return fmt.Sprintf("SP%s%s", now, randDigits(8))
}

func randDigits(length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteString("0")
			continue
		}
		b.WriteString(strconv.FormatInt(n.Int64(), 10))
	}
	return b.String()
}
