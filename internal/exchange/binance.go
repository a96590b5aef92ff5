package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/models"
)

// Валюта расчетов по умолчанию
const quoteAsset = "USDT"

// BinanceClient клиент для взаимодействия со спотовым и фьючерсным
// рынками Binance
type BinanceClient struct {
	futures *futures.Client
	spot    *binance.Client
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	futuresClient := futures.NewClient(cfg.APIKey, cfg.APISecret)
	spotClient := binance.NewClient(cfg.APIKey, cfg.APISecret)

	if cfg.Testnet {
		futuresClient.BaseURL = futures.BaseApiTestnetUrl
		// Для спот-клиента нужно изменить базовый URL
		spotClient.SetApiEndpoint("https://testnet.binance.vision")
	}

	return &BinanceClient{
		futures: futuresClient,
		spot:    spotClient,
	}, nil
}

// GetKlines получает исторические свечи в порядке возрастания времени
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) (models.CandleSeries, error) {
	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	candles := make(models.CandleSeries, len(klines))
	for i, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		candles[i] = &models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.Unix(k.OpenTime/1000, 0),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.Unix(k.CloseTime/1000, 0),
		}
	}

	return candles, nil
}

// GetBalance получает свободный и полный баланс расчетной валюты
// для указанного рынка
func (c *BinanceClient) GetBalance(ctx context.Context, market models.MarketType) (*models.Balance, error) {
	switch market {
	case models.MarketSpot:
		account, err := c.spot.NewGetAccountService().Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения спотового баланса: %w", err)
		}
		for _, b := range account.Balances {
			if b.Asset != quoteAsset {
				continue
			}
			free, _ := strconv.ParseFloat(b.Free, 64)
			locked, _ := strconv.ParseFloat(b.Locked, 64)
			return &models.Balance{Free: free, Total: free + locked, Currency: quoteAsset}, nil
		}
		return &models.Balance{Currency: quoteAsset}, nil

	case models.MarketFutures:
		balances, err := c.futures.NewGetBalanceService().Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения фьючерсного баланса: %w", err)
		}
		for _, b := range balances {
			if b.Asset != quoteAsset {
				continue
			}
			free, _ := strconv.ParseFloat(b.AvailableBalance, 64)
			total, _ := strconv.ParseFloat(b.Balance, 64)
			return &models.Balance{Free: free, Total: total, Currency: quoteAsset}, nil
		}
		return &models.Balance{Currency: quoteAsset}, nil

	default:
		return nil, fmt.Errorf("неизвестный тип рынка: %q", market)
	}
}

// SetLeverage устанавливает плечо для символа на фьючерсном рынке
func (c *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.futures.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка установки плеча: %w", err)
	}
	return nil
}

// GetLeverage возвращает фактическое плечо символа по данным биржи.
// Используется для верификации перед расчетом размера позиции.
func (c *BinanceClient) GetLeverage(ctx context.Context, symbol string) (int, error) {
	risks, err := c.futures.NewGetPositionRiskService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения данных о позиции: %w", err)
	}
	if len(risks) == 0 {
		return 0, fmt.Errorf("нет данных о плече для %s", symbol)
	}

	leverage, err := strconv.Atoi(risks[0].Leverage)
	if err != nil {
		return 0, fmt.Errorf("ошибка разбора плеча %q: %w", risks[0].Leverage, err)
	}
	return leverage, nil
}

// PlaceMarketOrder отправляет рыночный ордер и возвращает идентификатор
// биржевого ордера
func (c *BinanceClient) PlaceMarketOrder(ctx context.Context, market models.MarketType, symbol string, side models.Side, quantity string) (string, error) {
	switch market {
	case models.MarketSpot:
		orderSide := binance.SideTypeBuy
		if side == models.SideShort {
			orderSide = binance.SideTypeSell
		}
		order, err := c.spot.NewCreateOrderService().
			Symbol(symbol).
			Side(orderSide).
			Type(binance.OrderTypeMarket).
			Quantity(quantity).
			Do(ctx)
		if err != nil {
			return "", fmt.Errorf("ошибка отправки спотового ордера: %w", err)
		}
		return strconv.FormatInt(order.OrderID, 10), nil

	case models.MarketFutures:
		orderSide := futures.SideTypeBuy
		if side == models.SideShort {
			orderSide = futures.SideTypeSell
		}
		order, err := c.futures.NewCreateOrderService().
			Symbol(symbol).
			Side(orderSide).
			Type(futures.OrderTypeMarket).
			Quantity(quantity).
			Do(ctx)
		if err != nil {
			return "", fmt.Errorf("ошибка отправки фьючерсного ордера: %w", err)
		}
		return strconv.FormatInt(order.OrderID, 10), nil

	default:
		return "", fmt.Errorf("неизвестный тип рынка: %q", market)
	}
}

// CancelOpenOrders отменяет все открытые ордера символа
func (c *BinanceClient) CancelOpenOrders(ctx context.Context, market models.MarketType, symbol string) error {
	switch market {
	case models.MarketSpot:
		_, err := c.spot.NewCancelOpenOrdersService().Symbol(symbol).Do(ctx)
		if err != nil {
			return fmt.Errorf("ошибка отмены спотовых ордеров: %w", err)
		}
		return nil

	case models.MarketFutures:
		err := c.futures.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
		if err != nil {
			return fmt.Errorf("ошибка отмены фьючерсных ордеров: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("неизвестный тип рынка: %q", market)
	}
}

// GetTicker возвращает текущую цену символа
func (c *BinanceClient) GetTicker(ctx context.Context, market models.MarketType, symbol string) (float64, error) {
	switch market {
	case models.MarketSpot:
		prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return 0, fmt.Errorf("ошибка получения цены: %w", err)
		}
		if len(prices) == 0 {
			return 0, fmt.Errorf("нет цены для %s", symbol)
		}
		return strconv.ParseFloat(prices[0].Price, 64)

	case models.MarketFutures:
		prices, err := c.futures.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return 0, fmt.Errorf("ошибка получения цены: %w", err)
		}
		if len(prices) == 0 {
			return 0, fmt.Errorf("нет цены для %s", symbol)
		}
		return strconv.ParseFloat(prices[0].Price, 64)

	default:
		return 0, fmt.Errorf("неизвестный тип рынка: %q", market)
	}
}

// GetFundingRate получает текущую ставку финансирования
func (c *BinanceClient) GetFundingRate(ctx context.Context, symbol string) (*models.FundingRate, error) {
	rates, err := c.futures.NewPremiumIndexService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ставки финансирования: %w", err)
	}

	if len(rates) == 0 {
		return nil, fmt.Errorf("не найдены данные о ставке финансирования для %s", symbol)
	}

	rate, err := strconv.ParseFloat(rates[0].LastFundingRate, 64)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора ставки %q: %w", rates[0].LastFundingRate, err)
	}

	return &models.FundingRate{
		Symbol:          symbol,
		Rate:            rate,
		Timestamp:       time.Now(),
		NextFundingTime: time.Unix(rates[0].NextFundingTime/1000, 0),
	}, nil
}
