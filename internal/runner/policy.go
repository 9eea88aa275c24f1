package runner

import "time"

// Policy — все задержки и лимиты управляющего цикла в одном месте.
type Policy struct {
	Poll         time.Duration // обычный шаг цикла
	ConnectGrace time.Duration // ждём on_connect после Connect

	LoginAttempts   int           // попыток логина подряд
	LoginRetryDelay time.Duration // пауза между попытками
	LoginBackoff    time.Duration // после серии неудач и алерта админам

	MaxFaults        int           // подряд упавших итераций до длинной паузы
	FaultBackoff     time.Duration // пауза после сбоя итерации
	LongFaultBackoff time.Duration

	MaxSleep time.Duration // потолок сна до открытия рынка
}

func DefaultPolicy() Policy {
	return Policy{
		Poll:             5 * time.Second,
		ConnectGrace:     5 * time.Second,
		LoginAttempts:    3,
		LoginRetryDelay:  60 * time.Second,
		LoginBackoff:     30 * time.Minute,
		MaxFaults:        3,
		FaultBackoff:     60 * time.Second,
		LongFaultBackoff: 10 * time.Minute,
		MaxSleep:         time.Hour,
	}
}

// withDefaults заполняет нулевые поля значениями по умолчанию.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Poll <= 0 {
		p.Poll = d.Poll
	}
	if p.ConnectGrace <= 0 {
		p.ConnectGrace = d.ConnectGrace
	}
	if p.LoginAttempts <= 0 {
		p.LoginAttempts = d.LoginAttempts
	}
	if p.LoginRetryDelay <= 0 {
		p.LoginRetryDelay = d.LoginRetryDelay
	}
	if p.LoginBackoff <= 0 {
		p.LoginBackoff = d.LoginBackoff
	}
	if p.MaxFaults <= 0 {
		p.MaxFaults = d.MaxFaults
	}
	if p.FaultBackoff <= 0 {
		p.FaultBackoff = d.FaultBackoff
	}
	if p.LongFaultBackoff <= 0 {
		p.LongFaultBackoff = d.LongFaultBackoff
	}
	if p.MaxSleep <= 0 {
		p.MaxSleep = d.MaxSleep
	}
	return p
}

// sleepUntil — сколько спать до открытия, но не дольше MaxSleep.
func (p Policy) sleepUntil(now, next time.Time) time.Duration {
	d := next.Sub(now)
	if d <= 0 {
		return p.Poll
	}
	if d > p.MaxSleep {
		return p.MaxSleep
	}
	return d
}
